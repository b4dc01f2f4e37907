package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"oi-lot-manager/internal/models"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return m
}

func TestLogDecision_Accepted(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	q := models.NewStrikeQuote("NIFTY24OCT22050CE", decimal.NewFromInt(22050), models.OptionCall,
		decimal.NewFromInt(40), 1200000, decimal.NewFromInt(22000))
	d := &models.SizingDecision{
		ID:            "d-1",
		Underlying:    "NIFTY",
		Strike:        &q,
		Tier:          models.TierHigh,
		Lots:          3,
		LotMultiplier: 50,
		PositionValue: decimal.NewFromInt(6000),
		RiskAmount:    decimal.NewFromInt(900),
		StopLossPrice: decimal.NewFromInt(34),
		TargetPrice:   decimal.NewFromInt(50),
	}

	LogDecision(logger, d)
	m := decodeLine(t, &buf)

	if m["event"] != "decision" || m["tier"] != "HIGH" || m["symbol"] != "NIFTY24OCT22050CE" {
		t.Errorf("unexpected fields: %v", m)
	}
	if m["risk"] != "900.00" {
		t.Errorf("risk = %v", m["risk"])
	}
	if _, ok := m["reason"]; ok {
		t.Errorf("accepted decision must not log a reason")
	}
}

func TestLogDecision_Rejected(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogDecision(logger, models.Rejected("BANKNIFTY", models.ReasonNoQualifyingStrike))
	m := decodeLine(t, &buf)

	if m["reason"] != string(models.ReasonNoQualifyingStrike) {
		t.Errorf("reason = %v", m["reason"])
	}
	if m["message"] != "Sizing rejected" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithLogger(context.Background(), logger)
	got := FromContext(ctx)
	got.Info().Msg("hello")
	if buf.Len() == 0 {
		t.Error("logger from context should write to the original sink")
	}

	nop := FromContext(context.Background())
	nop.Info().Msg("dropped")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
