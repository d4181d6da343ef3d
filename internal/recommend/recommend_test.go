package recommend

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func sampleCluster() domain.Cluster {
	return domain.Cluster{
		Label: "mobile, checkout, payment",
		Size:  2,
		Members: []domain.Insight{
			{ID: "i1", Description: "Checkout button does nothing on my phone"},
			{ID: "i2", Description: " Payment page crashes on iOS "},
		},
		NegativePercentage: 100,
	}
}

func TestBuildPromptContents(t *testing.T) {
	prompt := BuildPrompt(sampleCluster())

	assert.Contains(t, prompt, "Checkout button does nothing on my phone; Payment page crashes on iOS")
	assert.Contains(t, prompt, "Cluster label: mobile, checkout, payment")
	for _, rubric := range []string{
		"affects core functionality, revenue or retention",
		"affects the experience but is not critical",
		"nice to have",
		"fixed within 1-2 weeks",
		"fixed within 1-2 months",
		"fix when resources allow",
	} {
		assert.Contains(t, prompt, rubric)
	}
	for _, field := range []string{`"recommendation"`, `"impact"`, `"urgency"`, `"cluster_summary"`} {
		assert.Contains(t, prompt, field)
	}
}

const validReply = `{"recommendation":"Fix the mobile checkout button","impact":"high","urgency":"immediate","cluster_summary":"Mobile users cannot pay"}`

func TestParseValid(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain", validReply},
		{"fenced json", "```json\n" + validReply + "\n```"},
		{"fenced bare", "```\n" + validReply + "\n```"},
		{"surrounding whitespace", "\n  " + validReply + "  \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, domain.Recommendation{
				Recommendation: "Fix the mobile checkout button",
				Impact:         domain.ImpactHigh,
				Urgency:        domain.UrgencyImmediate,
				ClusterSummary: "Mobile users cannot pay",
			}, rec)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"prose", "I think you should fix checkout."},
		{"array", `[` + validReply + `]`},
		{"null", `null`},
		{"missing urgency", `{"recommendation":"r","impact":"high","cluster_summary":"s"}`},
		{"extra field", `{"recommendation":"r","impact":"high","urgency":"soon","cluster_summary":"s","confidence":"0.9"}`},
		{"impact out of enum", `{"recommendation":"r","impact":"critical","urgency":"soon","cluster_summary":"s"}`},
		{"impact wrong case", `{"recommendation":"r","impact":"High","urgency":"soon","cluster_summary":"s"}`},
		{"urgency out of enum", `{"recommendation":"r","impact":"low","urgency":"asap","cluster_summary":"s"}`},
		{"non-string impact", `{"recommendation":"r","impact":3,"urgency":"soon","cluster_summary":"s"}`},
		{"null summary", `{"recommendation":"r","impact":"low","urgency":"soon","cluster_summary":null}`},
		{"empty recommendation", `{"recommendation":"  ","impact":"low","urgency":"soon","cluster_summary":"s"}`},
		{"trailing object", validReply + ` {"extra":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
			var malformed *MalformedError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, tt.text, malformed.Raw)
		})
	}
}

func TestRequesterSuccess(t *testing.T) {
	var gotPrompt string
	client := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline, "reasoning call must carry a deadline")
		return validReply, nil
	})
	r := NewRequester(client, time.Second, testLog())

	rec, err := r.Request(context.Background(), sampleCluster())
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactHigh, rec.Impact)
	assert.True(t, strings.Contains(gotPrompt, "mobile, checkout, payment"))
}

func TestRequesterCallFailureIsUpstreamUnavailable(t *testing.T) {
	client := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("connection refused")
	})
	r := NewRequester(client, time.Second, testLog())

	_, err := r.Request(context.Background(), sampleCluster())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.False(t, errors.Is(err, domain.ErrMalformedResponse))
}

func TestRequesterTimeoutIsUpstreamUnavailable(t *testing.T) {
	client := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewRequester(client, 20*time.Millisecond, testLog())

	start := time.Now()
	_, err := r.Request(context.Background(), sampleCluster())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequesterMalformedReply(t *testing.T) {
	client := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"recommendation":"r","impact":"high","cluster_summary":"s"}`, nil
	})
	r := NewRequester(client, time.Second, testLog())

	_, err := r.Request(context.Background(), sampleCluster())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
	assert.Equal(t, domain.FailureMalformedResponse, domain.FailureKindOf(err))
}
