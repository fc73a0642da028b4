package core

import "strings"

// Condition 天气类别（封闭枚举）
type Condition string

const (
	ConditionSunny  Condition = "sunny"
	ConditionRainy  Condition = "rainy"
	ConditionCloudy Condition = "cloudy"
	ConditionSnowy  Condition = "snowy"
)

// Conditions 返回全部天气类别
func Conditions() []Condition {
	return []Condition{ConditionSunny, ConditionRainy, ConditionCloudy, ConditionSnowy}
}

// Valid 判断是否为已知类别
func (c Condition) Valid() bool {
	switch c {
	case ConditionSunny, ConditionRainy, ConditionCloudy, ConditionSnowy:
		return true
	}
	return false
}

// ParseCondition 解析天气类别（大小写不敏感）
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", NewDomainError(ModuleAmbient, ErrorCodeInvalidInput, "ambient: unknown condition "+s)
	}
	return c, nil
}

// ConditionFromCode 将 OpenWeatherMap 天气代码映射为天气类别。
// 2xx/3xx/5xx → rainy，6xx → snowy，7xx → cloudy，800 → sunny，80x → cloudy，其他 → cloudy。
func ConditionFromCode(code int) Condition {
	switch {
	case code >= 200 && code < 600:
		return ConditionRainy
	case code >= 600 && code < 700:
		return ConditionSnowy
	case code >= 700 && code < 800:
		return ConditionCloudy
	case code == 800:
		return ConditionSunny
	default:
		return ConditionCloudy
	}
}

// AmbientContext 是当前的环境信息（天气），来自外部服务或用户手动选择。
// IsManual 为 true 的记录永远不会写入跨会话缓存。
type AmbientContext struct {
	Condition             Condition `json:"condition"`
	Temperature           float64   `json:"temperature"`
	FeelsLike             float64   `json:"feels_like"`
	Humidity              int       `json:"humidity"`
	Description           string    `json:"description"`
	DescriptionKo         string    `json:"description_ko"`
	Icon                  string    `json:"icon"`
	City                  string    `json:"city"`
	Country               string    `json:"country"`
	RecommendationMessage string    `json:"recommendation_message"`
	ThemeClass            string    `json:"theme_class"`
	IsManual              bool      `json:"is_manual,omitempty"`
}

// Coordinates 经纬度
type Coordinates struct {
	Latitude  float64
	Longitude float64
}
