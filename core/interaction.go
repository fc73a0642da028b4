package core

// Interaction 是用户与单个影片的关系状态（评分 / 收藏）。
//
// 缓存中不存在某个 ItemID 表示“尚未解析”，而不是“未收藏”。
type Interaction struct {
	ItemID      int64    `json:"movie_id"`
	Rating      *float64 `json:"rating"` // nil 表示未评分
	IsFavorited bool     `json:"is_favorited"`
}

// DefaultInteraction 返回未评分、未收藏的默认状态。
// 远程获取失败时用它填充缓存，避免 UI 无限重试。
func DefaultInteraction(itemID int64) Interaction {
	return Interaction{ItemID: itemID}
}

// Clone 返回深拷贝，Rating 指针不与原值共享。
func (i Interaction) Clone() Interaction {
	out := i
	if i.Rating != nil {
		r := *i.Rating
		out.Rating = &r
	}
	return out
}

// Equal 比较两个状态是否一致（Rating 按值比较）。
func (i Interaction) Equal(o Interaction) bool {
	if i.ItemID != o.ItemID || i.IsFavorited != o.IsFavorited {
		return false
	}
	switch {
	case i.Rating == nil && o.Rating == nil:
		return true
	case i.Rating == nil || o.Rating == nil:
		return false
	default:
		return *i.Rating == *o.Rating
	}
}

// Score 构造评分指针，便于字面量初始化。
func Score(v float64) *float64 { return &v }
