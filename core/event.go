package core

// EventType 行为事件类型（封闭枚举，服务端会拒绝未知类型）
type EventType string

const (
	EventMovieClick               EventType = "movie_click"               // 点击影片卡片
	EventMovieDetailView          EventType = "movie_detail_view"         // 进入详情页
	EventMovieDetailLeave         EventType = "movie_detail_leave"        // 离开详情页
	EventRecommendationImpression EventType = "recommendation_impression" // 推荐区块曝光
	EventSearch                   EventType = "search"                    // 搜索
	EventSearchClick              EventType = "search_click"              // 点击搜索结果
	EventRating                   EventType = "rating"                    // 评分
	EventFavoriteAdd              EventType = "favorite_add"              // 收藏
	EventFavoriteRemove           EventType = "favorite_remove"           // 取消收藏
	EventNotInterested            EventType = "not_interested"            // 不感兴趣
)

var knownEventTypes = map[EventType]struct{}{
	EventMovieClick:               {},
	EventMovieDetailView:          {},
	EventMovieDetailLeave:         {},
	EventRecommendationImpression: {},
	EventSearch:                   {},
	EventSearchClick:              {},
	EventRating:                   {},
	EventFavoriteAdd:              {},
	EventFavoriteRemove:           {},
	EventNotInterested:            {},
}

// Valid 判断事件类型是否属于已知枚举
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Event 是一次离散的用户行为。
// SessionID 在入队时由管道写入，调用方无需填写。
type Event struct {
	EventType EventType      `json:"event_type"`
	ItemID    *int64         `json:"movie_id,omitempty"`
	SessionID string         `json:"session_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventBatch 是批量上报的请求体
type EventBatch struct {
	Events []Event `json:"events"`
}

// ItemRef 构造 ItemID 指针
func ItemRef(id int64) *int64 { return &id }
