package queue

import "fmt"

// keyspace builds the Redis keys used for one prefix.
type keyspace string

func (p keyspace) join(format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	if p == "" {
		return "queue:" + s
	}
	return string(p) + ":" + s
}

func (p keyspace) ready(kind string) string      { return p.join("ready:%s", kind) }
func (p keyspace) processing(kind string) string { return p.join("processing:%s", kind) }
func (p keyspace) dlq(kind string) string        { return p.join("dlq:%s", kind) }
func (p keyspace) corrupt(kind string) string    { return p.join("dlq-corrupt:%s", kind) }
func (p keyspace) dedup(kind, key string) string { return p.join("dedup:%s:%s", kind, key) }

// sanitizeKind returns kind when it only holds [a-z0-9-_:], otherwise "".
func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == ':':
		default:
			return ""
		}
	}
	return kind
}
