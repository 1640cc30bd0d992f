package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level はログレベルを表す
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel は設定ファイルやフラグの文字列をレベルに変換する
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// timeFormat はミリ秒まで出力する（ジョブの並行実行を追えるようにするため）
const timeFormat = "2006-01-02 15:04:05.000"

// Logger はスレッドセーフなロガー
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel Level
}

// Default はデフォルトのロガー
var Default = New(os.Stdout, LevelInfo)

// New は新しいロガーを作成する
func New(out io.Writer, minLevel Level) *Logger {
	return &Logger{
		out:      out,
		minLevel: minLevel,
	}
}

// SetLevel はログレベルを設定する
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetOutput は出力先を差し替える
func (l *Logger) SetOutput(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
}

// Enabled は指定レベルが出力対象かどうかを返す
func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.minLevel
}

// log は指定されたレベルでログを出力する
func (l *Logger) log(level Level, scope string, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	timestamp := time.Now().Format(timeFormat)
	msg := fmt.Sprintf(format, args...)

	if scope != "" {
		_, _ = fmt.Fprintf(l.out, "[%s] [%s] [%s] %s\n", timestamp, level, scope, msg)
	} else {
		_, _ = fmt.Fprintf(l.out, "[%s] [%s] %s\n", timestamp, level, msg)
	}
}

// Debug はデバッグログを出力する
func (l *Logger) Debug(scope string, format string, args ...any) {
	l.log(LevelDebug, scope, format, args...)
}

// Info は情報ログを出力する
func (l *Logger) Info(scope string, format string, args ...any) {
	l.log(LevelInfo, scope, format, args...)
}

// Warn は警告ログを出力する
func (l *Logger) Warn(scope string, format string, args ...any) {
	l.log(LevelWarn, scope, format, args...)
}

// Error はエラーログを出力する
func (l *Logger) Error(scope string, format string, args ...any) {
	l.log(LevelError, scope, format, args...)
}

// Scoped はスコープを固定したロガーを返す
func (l *Logger) Scoped(scope string) *Scope {
	return &Scope{l: l, scope: scope}
}

// Scope はスコープ（worker-0, server など）を束縛したロガー
type Scope struct {
	l     *Logger
	scope string
}

// Name はスコープ名を返す
func (s *Scope) Name() string { return s.scope }

func (s *Scope) Debug(format string, args ...any) { s.l.Debug(s.scope, format, args...) }
func (s *Scope) Info(format string, args ...any) { s.l.Info(s.scope, format, args...) }
func (s *Scope) Warn(format string, args ...any) { s.l.Warn(s.scope, format, args...) }
func (s *Scope) Error(format string, args ...any) { s.l.Error(s.scope, format, args...) }

// グローバル関数（デフォルトロガーを使用）

// Debug はデバッグログを出力する
func Debug(scope string, format string, args ...any) {
	Default.Debug(scope, format, args...)
}

// Info は情報ログを出力する
func Info(scope string, format string, args ...any) {
	Default.Info(scope, format, args...)
}

// Warn は警告ログを出力する
func Warn(scope string, format string, args ...any) {
	Default.Warn(scope, format, args...)
}

// Error はエラーログを出力する
func Error(scope string, format string, args ...any) {
	Default.Error(scope, format, args...)
}
