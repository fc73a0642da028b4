package ambient

import "github.com/rushteam/recsync/core"

const (
	// ManualCity 手动选择天气时使用的城市名
	ManualCity = "Manual"

	fallbackMessage = "오늘의 추천 영화를 확인해보세요!"
)

var descriptionsKo = map[core.Condition]string{
	core.ConditionSunny:  "맑음",
	core.ConditionRainy:  "비",
	core.ConditionCloudy: "흐림",
	core.ConditionSnowy:  "눈",
}

var messages = map[core.Condition]string{
	core.ConditionSunny:  "화창한 날씨에는 신나는 모험 영화 어떠세요?",
	core.ConditionRainy:  "비 오는 날에는 감성적인 영화가 잘 어울려요",
	core.ConditionCloudy: "흐린 날에는 편안한 힐링 영화를 추천드려요",
	core.ConditionSnowy:  "눈 오는 날에는 따뜻한 로맨스 영화 어떠세요?",
}

var icons = map[core.Condition]string{
	core.ConditionSunny:  "01d",
	core.ConditionRainy:  "10d",
	core.ConditionCloudy: "03d",
	core.ConditionSnowy:  "13d",
}

// ThemeClass 返回天气类别对应的主题样式名
func ThemeClass(c core.Condition) string {
	return "theme-" + string(c)
}

// Representative 返回手动选择某个天气类别时使用的代表性记录（IsManual 为 true）
func Representative(c core.Condition) core.AmbientContext {
	return core.AmbientContext{
		Condition:             c,
		Temperature:           20,
		FeelsLike:             20,
		Humidity:              50,
		Description:           string(c),
		DescriptionKo:         descriptionsKo[c],
		Icon:                  icons[c],
		City:                  ManualCity,
		RecommendationMessage: messages[c],
		ThemeClass:            ThemeClass(c),
		IsManual:              true,
	}
}

// Fallback 返回所有远程来源都失败时使用的合成记录
func Fallback(city string) core.AmbientContext {
	return core.AmbientContext{
		Condition:             core.ConditionSunny,
		Temperature:           20,
		FeelsLike:             20,
		Humidity:              50,
		Description:           "Default",
		DescriptionKo:         descriptionsKo[core.ConditionSunny],
		Icon:                  icons[core.ConditionSunny],
		City:                  city,
		Country:               "KR",
		RecommendationMessage: fallbackMessage,
		ThemeClass:            ThemeClass(core.ConditionSunny),
	}
}
