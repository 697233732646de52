package logger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Muted 256-color palette: warm foreground, green/aqua for info and fields,
// yellow/orange/red for warnings and errors.
const (
	colorFg       = "\x1b[38;5;223m"
	colorGreenMid = "\x1b[38;5;107m"
	colorAqua     = "\x1b[38;5;109m"
	colorOrange   = "\x1b[38;5;208m"
	colorYellow   = "\x1b[38;5;179m"
	colorRed      = "\x1b[38;5;167m"
	colorRedBg    = "\x1b[48;5;52m"
	colorYellowBg = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// identity fields are printed first and highlighted
var identityKeys = map[string]bool{
	FieldJobID:     true,
	FieldArrayTask: true,
	FieldSignal:    true,
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "2026-10-19 13:04:35  WARN  preempt  Requeue failed  job_id=4242 error=..."
//
// Unlike a pure console encoder every field is kept: job logs are the only
// record of what the handler did during an eviction.
type minimalEncoder struct {
	zapcore.Encoder // base encoder for With() field accumulation
	color           bool
	context         []zapcore.Field
}

func newMinimalEncoder(color bool) *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		color:   color,
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	ctx := make([]zapcore.Field, len(enc.context))
	copy(ctx, enc.context)
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		color:   enc.color,
		context: ctx,
	}
}

// AddString etc. are reached through With(); collect them as context fields.
func (enc *minimalEncoder) AddString(key, value string) {
	enc.context = append(enc.context, zap.String(key, value))
}

func (enc *minimalEncoder) AddInt64(key string, value int64) {
	enc.context = append(enc.context, zap.Int64(key, value))
}

func (enc *minimalEncoder) AddBool(key string, value bool) {
	enc.context = append(enc.context, zap.Bool(key, value))
}

func (enc *minimalEncoder) AddFloat64(key string, value float64) {
	enc.context = append(enc.context, zap.Float64(key, value))
}

func (enc *minimalEncoder) AddDuration(key string, value time.Duration) {
	enc.context = append(enc.context, zap.Duration(key, value))
}

func (enc *minimalEncoder) AddReflected(key string, value interface{}) error {
	enc.context = append(enc.context, zap.Any(key, value))
	return nil
}

func (enc *minimalEncoder) paint(color, s string) string {
	if !enc.color || s == "" {
		return s
	}
	return color + s + colorReset
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(enc.paint(colorGreenMid, ent.Time.Format("2006-01-02 15:04:05")))

	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(enc.levelString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(enc.paint(colorOrange, ent.LoggerName))
	}

	final.AppendString("  ")
	final.AppendString(enc.paint(colorFg, ent.Message))

	all := make([]zapcore.Field, 0, len(enc.context)+len(fields))
	all = append(all, enc.context...)
	all = append(all, fields...)
	if rendered := enc.renderFields(all); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

func (enc *minimalEncoder) levelString(level zapcore.Level) string {
	label := level.CapitalString()
	if !enc.color {
		return label
	}
	switch level {
	case zapcore.DebugLevel:
		return colorAqua + label + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + label + colorReset
	default:
		return colorBold + colorRedBg + colorRed + label + colorReset
	}
}

// renderFields prints key=value pairs, identity keys first, rest in call order.
func (enc *minimalEncoder) renderFields(fields []zapcore.Field) string {
	if len(fields) == 0 {
		return ""
	}

	m := zapcore.NewMapObjectEncoder()
	order := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f.AddTo(m)
		// stack traces from errorVerbose belong in JSON output, not the console
		if strings.HasSuffix(f.Key, "Verbose") {
			continue
		}
		if !seen[f.Key] {
			seen[f.Key] = true
			order = append(order, f.Key)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return identityKeys[order[i]] && !identityKeys[order[j]]
	})

	parts := make([]string, 0, len(order))
	for _, key := range order {
		val := formatValue(m.Fields[key])
		if identityKeys[key] {
			val = enc.paint(colorAqua, val)
		} else if key == FieldError {
			val = enc.paint(colorRed, val)
		}
		parts = append(parts, key+"="+val)
	}
	return strings.Join(parts, " ")
}

func formatValue(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
