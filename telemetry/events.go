package telemetry

import (
	"context"
	"time"

	"github.com/rushteam/recsync/core"
)

// Track 入队一个事件，itemID 为 nil 表示与具体影片无关
func (p *Pipeline) Track(ctx context.Context, typ core.EventType, itemID *int64, metadata map[string]any) {
	p.Enqueue(ctx, core.Event{EventType: typ, ItemID: itemID, Metadata: metadata})
}

// TrackClick 记录推荐区块中的影片点击；section 为空时不记录
func (p *Pipeline) TrackClick(ctx context.Context, itemID int64, section string, position int) {
	if section == "" {
		return
	}
	p.Track(ctx, core.EventMovieClick, core.ItemRef(itemID), map[string]any{
		"source":   "recommendation",
		"section":  section,
		"position": position,
	})
}

func (p *Pipeline) TrackDetailView(ctx context.Context, itemID int64) {
	p.Track(ctx, core.EventMovieDetailView, core.ItemRef(itemID), nil)
}

// TrackDetailLeave 记录离开详情页及停留时长
func (p *Pipeline) TrackDetailLeave(ctx context.Context, itemID int64, stayed time.Duration) {
	p.Track(ctx, core.EventMovieDetailLeave, core.ItemRef(itemID), map[string]any{
		"duration_ms": stayed.Milliseconds(),
	})
}

func (p *Pipeline) TrackSearch(ctx context.Context, query string, resultCount int) {
	p.Track(ctx, core.EventSearch, nil, map[string]any{
		"query":        query,
		"result_count": resultCount,
	})
}

func (p *Pipeline) TrackSearchClick(ctx context.Context, itemID int64, query string, position int) {
	p.Track(ctx, core.EventSearchClick, core.ItemRef(itemID), map[string]any{
		"query":    query,
		"position": position,
	})
}

func (p *Pipeline) TrackRating(ctx context.Context, itemID int64, score float64) {
	p.Track(ctx, core.EventRating, core.ItemRef(itemID), map[string]any{"score": score})
}

// TrackFavorite 根据 added 记录 favorite_add 或 favorite_remove
func (p *Pipeline) TrackFavorite(ctx context.Context, itemID int64, added bool) {
	typ := core.EventFavoriteRemove
	if added {
		typ = core.EventFavoriteAdd
	}
	p.Track(ctx, typ, core.ItemRef(itemID), nil)
}

// TrackImpression 记录推荐区块曝光，itemIDs 由调用方截断
func (p *Pipeline) TrackImpression(ctx context.Context, section string, itemIDs []int64, count int) {
	p.Track(ctx, core.EventRecommendationImpression, nil, map[string]any{
		"section":   section,
		"movie_ids": itemIDs,
		"count":     count,
	})
}
