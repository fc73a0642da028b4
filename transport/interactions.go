package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rushteam/recsync/core"
)

type favoriteResponse struct {
	ItemID      int64  `json:"movie_id"`
	IsFavorited bool   `json:"is_favorited"`
	Message     string `json:"message"`
}

type batchInteractionsResponse struct {
	Interactions map[string]core.Interaction `json:"interactions"`
}

type ratingRequest struct {
	ItemID         int64   `json:"movie_id"`
	Score          float64 `json:"score"`
	WeatherContext string  `json:"weather_context,omitempty"`
}

// GetInteraction 获取单个影片的交互状态
func (c *Client) GetInteraction(ctx context.Context, itemID int64) (core.Interaction, error) {
	var out core.Interaction
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/interactions/movie/%d", itemID), nil, &out); err != nil {
		return core.Interaction{}, err
	}
	if out.ItemID != itemID {
		return core.Interaction{}, malformed("interaction", itemID, out.ItemID)
	}
	return out, nil
}

// GetInteractions 批量获取交互状态，响应中缺失的 id 不出现在结果里
func (c *Client) GetInteractions(ctx context.Context, itemIDs []int64) (map[int64]core.Interaction, error) {
	var resp batchInteractionsResponse
	if err := c.do(ctx, http.MethodPost, "/interactions/movies", itemIDs, &resp); err != nil {
		return nil, err
	}
	out := make(map[int64]core.Interaction, len(resp.Interactions))
	for key, it := range resp.Interactions {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, core.WrapDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput,
				"transport: malformed interaction key "+strconv.Quote(key), err)
		}
		it.ItemID = id
		out[id] = it
	}
	return out, nil
}

// ToggleFavorite 翻转收藏状态，返回服务端的最终值
func (c *Client) ToggleFavorite(ctx context.Context, itemID int64) (bool, error) {
	var resp favoriteResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/interactions/favorite/%d", itemID), nil, &resp); err != nil {
		return false, err
	}
	if resp.ItemID != itemID {
		return false, malformed("favorite", itemID, resp.ItemID)
	}
	return resp.IsFavorited, nil
}

// RateMovie 设置评分，contextTag 为空时不带 weather_context
func (c *Client) RateMovie(ctx context.Context, itemID int64, score float64, contextTag string) error {
	body := ratingRequest{ItemID: itemID, Score: score, WeatherContext: contextTag}
	return c.do(ctx, http.MethodPost, "/ratings", body, nil)
}

func malformed(what string, want, got int64) error {
	return core.NewDomainError(core.ModuleTransport, core.ErrorCodeInvalidInput,
		fmt.Sprintf("transport: malformed %s response: movie_id=%d, want %d", what, got, want))
}
