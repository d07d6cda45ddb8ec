package locator

// Level 定位质量等级
type Level string

const (
	LevelExcellent Level = "Excellent"
	LevelGood      Level = "Good"
	LevelFair      Level = "Fair"
	LevelPoor      Level = "Poor"
)

// RecommendImproveSignal is added when accuracy is worse than 50 m.
const RecommendImproveSignal = "improve signal"

// Quality 定位质量评分
type Quality struct {
	Score           int      `json:"score"`
	Level           Level    `json:"level"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// LevelFor maps a score to its level.
func LevelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelExcellent
	case score >= 50:
		return LevelGood
	case score >= 30:
		return LevelFair
	default:
		return LevelPoor
	}
}

// Assess 按精度和辅助传感器字段打分
func Assess(f *Fix) Quality {
	var q Quality
	switch acc := f.AccuracyM; {
	case acc <= 5:
		q.Score += 40
	case acc <= 10:
		q.Score += 30
	case acc <= 20:
		q.Score += 20
	case acc <= 50:
		q.Score += 10
	default:
		q.Recommendations = append(q.Recommendations, RecommendImproveSignal)
	}

	if f.AltitudeM != nil {
		q.Score += 10
	}
	if f.AltitudeAccuracyM != nil && *f.AltitudeAccuracyM <= 10 {
		q.Score += 10
	}
	if f.Heading != nil {
		q.Score += 5
	}
	if f.SpeedMPS != nil {
		q.Score += 5
	}

	q.Level = LevelFor(q.Score)
	return q
}
