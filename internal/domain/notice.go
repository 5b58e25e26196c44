package domain

import "time"

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a transient, user-visible status line.
type Notice struct {
	Level Level     `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

func Info(text string) Notice  { return Notice{Level: LevelInfo, Text: text, At: time.Now()} }
func Error(text string) Notice { return Notice{Level: LevelError, Text: text, At: time.Now()} }
