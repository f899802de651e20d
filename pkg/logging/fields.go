package logging

import "time"

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Field helpers for the names used throughout the sync server

func Room(id string) Field {
	return String("room", id)
}

func Session(id string) Field {
	return String("session", id)
}

func User(id string) Field {
	return String("user", id)
}

func Writer(id string) Field {
	return String("writer", id)
}

func Event(kind string) Field {
	return String("event", kind)
}

func Count(n int) Field {
	return Int("count", n)
}
