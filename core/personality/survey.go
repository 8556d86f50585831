package personality

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/looplab/fsm"

	"github.com/m3rciful/flowbot/core/domain"
)

const (
	eventBegin  = "begin"
	eventAnswer = "answer"
)

type question struct {
	state  domain.State
	prompt string
	key    string
	label  string
}

var surveyQuestions = []question{
	{domain.StateSurveyQ1, "Question 1: How satisfied are you with our service? (1-5)", "q1_satisfaction", "Satisfaction"},
	{domain.StateSurveyQ2, "Question 2: Would you recommend us to others? (Yes/No)", "q2_recommend", "Recommend"},
	{domain.StateSurveyQ3, "Question 3: Any additional comments?", "q3_comments", "Comments"},
}

func questionFor(s domain.State) (question, bool) {
	for _, q := range surveyQuestions {
		if q.state == s {
			return q, true
		}
	}
	return question{}, false
}

// Survey asks three fixed questions in order and echoes the answers back.
type Survey struct {
	unknownCommands
}

func (Survey) Name() string { return "survey" }

func (s Survey) HandleText(t *Turn, text string) error {
	switch st := t.State(); {
	case st == domain.StateNew:
		t.Reply("Please use /start to begin the survey.")
		return nil
	case st == domain.StateWelcomed:
		if t.NeedsPhone() {
			t.RequestPhone("")
			return nil
		}
		return s.fire(t, eventBegin, "")
	case strings.HasPrefix(string(st), "survey_"):
		return s.fire(t, eventAnswer, text)
	default:
		t.Reply("Survey completed! Use /start to take it again.")
		return nil
	}
}

// AfterPhone starts the questions. The engine has already moved the user to
// registered, so the machine is entered from there.
func (s Survey) AfterPhone(t *Turn) error {
	return s.fire(t, eventBegin, "")
}

// fire runs one transition of the survey machine seeded with the user's state.
func (s Survey) fire(t *Turn, event, answer string) error {
	m := fsm.NewFSM(
		string(t.State()),
		fsm.Events{
			{Name: eventBegin, Src: []string{string(domain.StateWelcomed), string(domain.StateRegistered)}, Dst: string(domain.StateSurveyQ1)},
			{Name: eventAnswer, Src: []string{string(domain.StateSurveyQ1)}, Dst: string(domain.StateSurveyQ2)},
			{Name: eventAnswer, Src: []string{string(domain.StateSurveyQ2)}, Dst: string(domain.StateSurveyQ3)},
			{Name: eventAnswer, Src: []string{string(domain.StateSurveyQ3)}, Dst: string(domain.StateRegistered)},
		},
		fsm.Callbacks{
			"before_" + eventAnswer: func(_ context.Context, e *fsm.Event) {
				if q, ok := questionFor(domain.State(e.Src)); ok {
					t.User().Data[q.key] = answer
				}
			},
			"enter_state": func(_ context.Context, e *fsm.Event) {
				dst := domain.State(e.Dst)
				t.SetState(dst)
				if q, ok := questionFor(dst); ok {
					t.Reply(q.prompt)
					return
				}
				t.Reply("✅ Thank you for completing the survey!")
				t.Reply(surveyResults(t.User().Data))
			},
		},
	)

	err := m.Event(t.Context(), event)
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		// a survey_* state the machine does not know, e.g. left by an older version
		t.Reply(TextFallback)
		return nil
	}
	if err != nil {
		return fmt.Errorf("survey %s from %s: %w", event, t.State(), err)
	}
	return nil
}

func surveyResults(data domain.StateData) string {
	var b strings.Builder
	b.WriteString("Your responses:\n\n")
	for _, q := range surveyQuestions {
		v := data.String(q.key)
		if !data.Has(q.key) {
			v = "N/A"
		}
		b.WriteString(q.label + ": " + v + "\n")
	}
	return b.String()
}
