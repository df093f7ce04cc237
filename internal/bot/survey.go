package bot

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Rating bounds for every survey answer.
const (
	minRating = 0
	maxRating = 10
)

// Survey step layout: step 0 awaits the initial overall rating, step i
// (1..N) awaits question i-1, step N+1 is finished.

// SurveyRecorder persists one rating. Recording is best-effort from the
// dialog's point of view: a failure is logged and the dialog moves on.
type SurveyRecorder interface {
	RecordRating(tenantID, conversationKey string, question, rating int) error
}

// SurveyDialog runs the satisfaction survey: one overall rating followed by
// a fixed number of per-question ratings.
type SurveyDialog struct {
	recorder  SurveyRecorder
	questions int
}

// surveyData is the dialog payload.
type surveyData struct {
	Initial int   `json:"initial"`
	Answers []int `json:"answers"`
}

// NewSurveyDialog creates a SurveyDialog with N questions.
func NewSurveyDialog(recorder SurveyRecorder, questions int) (*SurveyDialog, error) {
	if recorder == nil {
		return nil, fmt.Errorf("bot: survey: recorder is required")
	}
	if questions < 1 {
		return nil, fmt.Errorf("bot: survey: at least one question is required")
	}
	return &SurveyDialog{recorder: recorder, questions: questions}, nil
}

func (d *SurveyDialog) Kind() Kind { return KindSurvey }

// ShouldActivate is always false: the survey is started explicitly when a
// conversation finishes, never for a fresh inbound contact.
func (d *SurveyDialog) ShouldActivate(ctx StartContext) bool { return false }

// TerminalStep reports whether step is the finished step.
func (d *SurveyDialog) TerminalStep(step int) bool { return step > d.questions }

// Start initializes the session and returns the opening prompt.
func (d *SurveyDialog) Start(sess *Session, ctx StartContext) (string, error) {
	sess.Step = 0
	if err := sess.EncodeData(&surveyData{}); err != nil {
		return "", err
	}
	return fmt.Sprintf("How would you rate your service overall, from %d to %d?", minRating, maxRating), nil
}

// Advance validates one rating. Unparseable or out-of-range input re-prompts
// without advancing; valid input records the rating and moves on.
func (d *SurveyDialog) Advance(sess *Session, input string) (Action, error) {
	rating, ok := parseRating(input)
	if !ok {
		return Action{
			Reply: fmt.Sprintf("Please answer with a number from %d to %d.", minRating, maxRating),
		}, nil
	}

	var data surveyData
	if err := sess.DecodeData(&data); err != nil {
		return Action{}, err
	}

	question := sess.Step - 1 // -1 = initial rating
	if err := d.recorder.RecordRating(sess.TenantID, sess.ConversationKey, question, rating); err != nil {
		log.Printf("bot: survey: record rating [key=%s q=%d]: %v", sess.ConversationKey, question, err)
	}
	if sess.Step == 0 {
		data.Initial = rating
	} else {
		data.Answers = append(data.Answers, rating)
	}

	sess.Step++
	if err := sess.EncodeData(&data); err != nil {
		return Action{}, err
	}

	if sess.Step > d.questions {
		return Action{
			Advanced:          true,
			Terminal:          true,
			CloseConversation: true,
			CloseReason:       "survey finished",
			Reply:             "Thank you for your feedback!",
		}, nil
	}
	return Action{
		Advanced: true,
		Reply:    fmt.Sprintf("Question %d of %d: how satisfied were you, from %d to %d?", sess.Step, d.questions, minRating, maxRating),
	}, nil
}

// parseRating parses a bounded integer rating.
func parseRating(input string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || n < minRating || n > maxRating {
		return 0, false
	}
	return n, true
}
