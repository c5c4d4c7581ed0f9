// Package prompt builds the chat messages shared by every provider adapter.
package prompt

import (
	"fmt"
	"strings"

	"github.com/yanolja/horoscope"
)

// System returns the system prompt for a chart type. Ziwei charts default to
// Traditional Chinese and western charts to English.
func System(chartType horoscope.ChartType, language string) string {
	if chartType == horoscope.ChartTypeZiwei {
		if language == "en" {
			return "You are an expert in 紫微斗數 (Zi Wei Dou Shu). Provide insightful interpretations in English."
		}
		return "你是紫微斗數專家。請用繁體中文提供深入且實用的命盤解讀，語氣溫和專業。"
	}
	if language == "zh" {
		return "你是西洋占星專家。請用繁體中文提供深入的星盤解讀。"
	}
	return "You are an expert Western astrologer. Provide insightful natal chart interpretations."
}

// User renders the chart data into the user message.
func User(request *horoscope.InterpretationRequest) string {
	if request.ChartType == horoscope.ChartTypeZiwei {
		return ziwei(request.ChartData, request.Focus)
	}
	return western(request.ChartData, request.Focus)
}

func ziwei(data map[string]any, focus string) string {
	fiveElement := stringOr(data["fiveElement"], "未知")

	gender := "未知"
	if birthInfo, ok := data["birthInfo"].(map[string]any); ok {
		switch birthInfo["gender"] {
		case "male":
			gender = "男"
		case "female":
			gender = "女"
		}
	}

	palaces := []string{}
	for _, item := range list(data["palaces"]) {
		palace, ok := item.(map[string]any)
		if !ok {
			continue
		}
		stars := names(list(palace["stars"]))
		starText := "無主星"
		if len(stars) > 0 {
			starText = strings.Join(stars, "、")
		}
		palaces = append(palaces, fmt.Sprintf("%s：%s", stringOr(palace["name"], ""), starText))
	}

	var builder strings.Builder
	builder.WriteString("請解讀以下紫微斗數命盤：\n\n")
	fmt.Fprintf(&builder, "五行局：%s\n性別：%s\n\n", fiveElement, gender)
	builder.WriteString("十二宮星曜分布：\n")
	builder.WriteString(strings.Join(palaces, "\n"))
	if focus != "" {
		fmt.Fprintf(&builder, "\n\n請特別分析：%s", focus)
	}
	return builder.String()
}

func western(data map[string]any, focus string) string {
	sun, moon := "Unknown", "Unknown"
	if sign, ok := data["sunSign"].(map[string]any); ok {
		sun = stringOr(sign["name"], sun)
	}
	if sign, ok := data["moonSign"].(map[string]any); ok {
		moon = stringOr(sign["name"], moon)
	}

	planets := []string{}
	for _, item := range list(data["planets"]) {
		planet, ok := item.(map[string]any)
		if !ok {
			continue
		}
		planets = append(planets, fmt.Sprintf("%s in %s", stringOr(planet["name"], ""), stringOr(planet["sign"], "")))
	}

	text := fmt.Sprintf("Interpret this natal chart:\nSun: %s\nMoon: %s\nPlanets: %s", sun, moon, strings.Join(planets, ", "))
	if focus != "" {
		text += "\n\nFocus on: " + focus
	}
	return text
}

func list(value any) []any {
	items, _ := value.([]any)
	return items
}

func names(items []any) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		if named, ok := item.(map[string]any); ok {
			if name := stringOr(named["name"], ""); name != "" {
				result = append(result, name)
			}
		}
	}
	return result
}

func stringOr(value any, fallback string) string {
	if text, ok := value.(string); ok && text != "" {
		return text
	}
	return fallback
}
