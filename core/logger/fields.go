package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// closed vocabularies; unknown cache/outcome values are dropped from the line.
var (
	statusValues  = set("ok", "warn", "fail", "skip", "retry", "rate_limited", "cancelled", "timeout", "dropped")
	cacheValues   = set("hit", "miss")
	outcomeValues = set("ok", "fail", "cancelled", "rate_limited", "dropped",
		"blocked", "inactive", "flow_failed", "fallback", "queue_full")
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func levelName(level string) string {
	if level == "" {
		return "INFO"
	}
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

func inVocab(vocab map[string]struct{}, v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	_, ok := vocab[v]
	return v, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"ts_unix_nano",
	"bot_id",
	"bot_type",
	"chat_id",
	"update_id",
	"handler",
	"kind",
	"state",
	"prev_state",
	"step",
	"flow_id",
	"trigger",
	"outcome",
	"duration_ms",
	"sends",
	"created",
	"cache",
	"method",
	"path",
	"http_code",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"queue",
	"workers",
	"err",
	"err_code",
	"err_kind",
	"retryable",
	"attempt",
	"attempts",
}
