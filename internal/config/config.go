package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPort = 5555

// Server is the authority's configuration. Only Name, Host and Port are
// flags; everything else comes from the environment or a .env file.
type Server struct {
	Name           string
	Host           string
	Port           int
	HTTPAddr       string
	OriginPatterns []string

	Rows           int
	Cols           int
	GameTime       time.Duration
	Countdown      time.Duration
	Seed           int64
	SpeedTolerance float64

	MsgRate  float64
	MsgBurst int

	DatabaseURL string
	LogLevel    string
}

func (s Server) Addr() string { return net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) }

type Client struct {
	Name     string
	Glyph    string
	Host     string
	Port     int
	LogLevel string
}

func (c Client) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// loadDotEnv reads the given files into the environment without overriding
// variables that are already set. Missing files are not an error.
func loadDotEnv(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// env reads typed values and collects every parse failure.
type env struct{ errs []error }

func (e *env) string(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (e *env) seconds(key string, def int) time.Duration {
	return time.Duration(e.int(key, def)) * time.Second
}

func (e *env) list(key string) []string {
	var out []string
	for _, p := range strings.Split(e.string(key, ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) err() error { return errors.Join(e.errs...) }

// LoadServer builds the server configuration from .env files (".env" when
// none are named), the environment and args.
func LoadServer(args []string, envFiles ...string) (Server, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return Server{}, err
	}
	var e env
	cfg := Server{
		Name:           e.string("LOCKBREAK_NAME", "server"),
		Host:           e.string("LOCKBREAK_HOST", "0.0.0.0"),
		Port:           e.int("LOCKBREAK_PORT", DefaultPort),
		HTTPAddr:       e.string("LOCKBREAK_HTTP_ADDR", ":8080"),
		OriginPatterns: e.list("LOCKBREAK_ORIGINS"),
		Rows:           e.int("LOCKBREAK_ROWS", 5),
		Cols:           e.int("LOCKBREAK_COLS", 5),
		GameTime:       e.seconds("LOCKBREAK_GAME_SECONDS", 300),
		Countdown:      e.seconds("LOCKBREAK_COUNTDOWN_SECONDS", 3),
		Seed:           int64(e.int("LOCKBREAK_SEED", 0)),
		SpeedTolerance: e.float("LOCKBREAK_SPEED_TOLERANCE", 1.25),
		MsgRate:        e.float("LOCKBREAK_MSG_RATE", 50),
		MsgBurst:       e.int("LOCKBREAK_MSG_BURST", 100),
		DatabaseURL:    e.string("DATABASE_URL", ""),
		LogLevel:       e.string("LOG_LEVEL", "info"),
	}
	if err := e.err(); err != nil {
		return Server{}, err
	}

	fset := flag.NewFlagSet("lockbreak-server", flag.ContinueOnError)
	fset.StringVar(&cfg.Name, "name", cfg.Name, "server identity used in logs")
	fset.StringVar(&cfg.Host, "host", cfg.Host, "address to bind")
	fset.IntVar(&cfg.Port, "port", cfg.Port, "TCP port")
	if err := fset.Parse(args); err != nil {
		return Server{}, err
	}
	return cfg, cfg.validate()
}

func (s Server) validate() error {
	var errs []error
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.Rows <= 0 || s.Cols <= 0 {
		errs = append(errs, fmt.Errorf("grid %dx%d must be positive", s.Rows, s.Cols))
	}
	if s.GameTime <= 0 {
		errs = append(errs, errors.New("game time must be positive"))
	}
	if s.Countdown < 0 {
		errs = append(errs, errors.New("countdown must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadClient builds the console client's configuration.
func LoadClient(args []string, envFiles ...string) (Client, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return Client{}, err
	}
	var e env
	cfg := Client{
		Name:     e.string("LOCKBREAK_NAME", ""),
		Glyph:    e.string("LOCKBREAK_ICON", ""),
		Host:     e.string("LOCKBREAK_HOST", "127.0.0.1"),
		Port:     e.int("LOCKBREAK_PORT", DefaultPort),
		LogLevel: e.string("LOG_LEVEL", "warn"),
	}
	if err := e.err(); err != nil {
		return Client{}, err
	}

	fset := flag.NewFlagSet("lockbreak", flag.ContinueOnError)
	fset.StringVar(&cfg.Name, "name", cfg.Name, "player identity")
	fset.StringVar(&cfg.Host, "host", cfg.Host, "server address")
	fset.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	if err := fset.Parse(args); err != nil {
		return Client{}, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Client{}, fmt.Errorf("port %d out of range", cfg.Port)
	}
	return cfg, nil
}
