package service

import (
	"math"
	"strings"

	"github.com/learnhub/admission-api/internal/models"
)

// Final rank weights. The application score leads; risk subtracts.
const (
	weightApplication = 0.4
	weightReadiness   = 0.3
	weightCommitment  = 0.2
	weightRisk        = 0.1

	regionalBonus = 5.0

	highRiskThreshold = 50.0
)

// Countries receiving the regional outreach bonus on the final rank.
var regionalBonusCountries = map[string]struct{}{
	"uganda":   {},
	"kenya":    {},
	"tanzania": {},
	"rwanda":   {},
	"malawi":   {},
	"zambia":   {},
}

// ScoreEngine computes the derived scores of an application. All functions
// are pure over the application's answer fields; Evaluate is safe to
// re-invoke at any time and always yields the same result for the same
// input.
type ScoreEngine struct{}

// NewScoreEngine constructs the engine.
func NewScoreEngine() *ScoreEngine {
	return &ScoreEngine{}
}

// Evaluate recomputes every sub-score and the final rank, writing the
// results back onto the application.
func (e *ScoreEngine) Evaluate(app *models.Application) models.ScoreComponents {
	app.RiskScore = e.Risk(app)
	app.IsHighRisk = app.RiskScore >= highRiskThreshold
	app.ReadinessScore = e.Readiness(app)
	app.CommitmentScore = e.Commitment(app)
	app.ApplicationScore = e.ApplicationScore(app)
	app.FinalRankScore = e.FinalRank(app)
	return app.Scores()
}

// Risk is an additive penalty model capped at 100. Higher means the
// applicant is more likely to struggle with delivery logistics.
func (e *ScoreEngine) Risk(app *models.Application) float64 {
	score := 0.0

	if !app.HasComputer {
		score += 30
	}

	switch app.InternetAccess {
	case models.InternetAccessNone, "":
		score += 25
	case models.InternetAccessLimited:
		score += 15
	case models.InternetAccessPublic:
		score += 10
	case models.InternetAccessMobile:
		score += 5
	}

	switch app.SkillLevel {
	case models.SkillLevelNeverUsed, "":
		score += 20
	case models.SkillLevelBeginner:
		score += 10
	case models.SkillLevelIntermediate:
		score += 3
	}

	if !app.HasOnlineLearning {
		score += 15
	}

	if !app.Committed {
		score += 5
	}
	if !app.AgreesAssessments {
		score += 5
	}

	return math.Min(score, 100)
}

// Readiness is an additive reward model capped at 100. Each bucket is
// independently capped.
func (e *ScoreEngine) Readiness(app *models.Application) float64 {
	score := 0.0

	// Device and internet presence, up to 30.
	access := 0.0
	if app.HasComputer {
		access += 15
	}
	switch app.InternetAccess {
	case models.InternetAccessHome:
		access += 15
	case models.InternetAccessMobile, models.InternetAccessLimited, models.InternetAccessPublic:
		access += 8
	}
	score += math.Min(access, 30)

	switch app.SkillLevel {
	case models.SkillLevelAdvanced:
		score += 30
	case models.SkillLevelIntermediate:
		score += 20
	case models.SkillLevelBeginner:
		score += 10
	}

	score += math.Min(float64(len(app.PriorTasks))*2, 10)

	score += educationLadder(app.EducationLevel)

	if app.HasOnlineLearning {
		score += 10
	}

	switch app.EmploymentStatus {
	case "employed", "self_employed":
		score += 10
	case "student":
		score += 5
	}

	return math.Min(score, 100)
}

// Commitment rewards explicit consent and the effort visible in free-text
// answers, using answer length as a proxy. Capped at 100.
func (e *ScoreEngine) Commitment(app *models.Application) float64 {
	score := 0.0

	if app.Committed {
		score += 10
	}
	if app.AgreesAssessments {
		score += 10
	}

	score += textEffort(app.Motivation, 30)
	score += textEffort(app.LearningOutcomes, 20)
	score += textEffort(app.CareerImpact, 20)

	score += math.Min(float64(len(app.Availability))*2, 10)

	return math.Min(score, 100)
}

// ApplicationScore is the primary sort key before risk is factored in. It
// deliberately overlaps with readiness and commitment; the weighting intent
// of the admission policy keeps the two composites separate.
func (e *ScoreEngine) ApplicationScore(app *models.Application) float64 {
	score := 0.0

	// Technical readiness, up to 25.
	technical := 0.0
	if app.HasComputer {
		technical += 15
	}
	if app.InternetAccess != "" && app.InternetAccess != models.InternetAccessNone {
		technical += 10
	}
	score += math.Min(technical, 25)

	switch app.SkillLevel {
	case models.SkillLevelAdvanced:
		score += 25
	case models.SkillLevelIntermediate:
		score += 18
	case models.SkillLevelBeginner:
		score += 10
	}

	score += educationLadder(app.EducationLevel) * 0.75

	// Motivation and goals presence, up to 20.
	if strings.TrimSpace(app.Motivation) != "" {
		score += 10
	}
	if strings.TrimSpace(app.LearningOutcomes) != "" {
		score += 5
	}
	if strings.TrimSpace(app.CareerImpact) != "" {
		score += 5
	}

	if app.Committed {
		score += 5
	}
	if app.AgreesAssessments {
		score += 5
	}

	if app.PreferredMode == "online" {
		score += 5
	}

	return math.Min(score, 100)
}

// FinalRank combines the composites, subtracts the risk weight, clamps at
// zero, and applies the regional bonus on top. Rounded to two decimals.
func (e *ScoreEngine) FinalRank(app *models.Application) float64 {
	rank := weightApplication*app.ApplicationScore +
		weightReadiness*app.ReadinessScore +
		weightCommitment*app.CommitmentScore -
		weightRisk*app.RiskScore
	if rank < 0 {
		rank = 0
	}
	if _, ok := regionalBonusCountries[strings.ToLower(strings.TrimSpace(app.Country))]; ok {
		rank += regionalBonus
	}
	return math.Round(rank*100) / 100
}

// educationLadder maps education levels to a fixed reward, topping out at 20.
func educationLadder(level string) float64 {
	switch level {
	case "postgraduate":
		return 20
	case "bachelor":
		return 16
	case "diploma":
		return 12
	case "secondary":
		return 8
	case "primary":
		return 4
	default:
		return 0
	}
}

// textEffort tiers a free-text answer by length. The max is the tier ceiling
// for the field.
func textEffort(text string, max float64) float64 {
	length := len(strings.TrimSpace(text))
	switch {
	case length >= 200:
		return max
	case length >= 100:
		return max * 2 / 3
	case length >= 40:
		return max / 3
	case length > 0:
		return max / 6
	default:
		return 0
	}
}
