package httpx

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// legacyRedis speaks enough RESP2 for the rate limiter and rejects EXPIRE
// options the way Redis 6 does.
type legacyRedis struct {
	mu       sync.Mutex
	counters map[string]int64
	expiry   map[string]time.Duration
	ln       net.Listener
}

func startLegacyRedis(t *testing.T) *legacyRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &legacyRedis{counters: map[string]int64{}, expiry: map[string]time.Duration{}, ln: ln}
	go srv.serve()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (s *legacyRedis) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *legacyRedis) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, s.reply(args)); err != nil {
			return
		}
	}
}

func (s *legacyRedis) reply(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "CLIENT":
		return "+OK\r\n"
	case "INCR":
		s.counters[args[1]]++
		return fmt.Sprintf(":%d\r\n", s.counters[args[1]])
	case "EXPIRE":
		if len(args) != 3 {
			return "-ERR wrong number of arguments for 'expire' command\r\n"
		}
		secs, _ := strconv.Atoi(args[2])
		s.expiry[args[1]] = time.Duration(secs) * time.Second
		return ":1\r\n"
	case "TTL":
		if _, ok := s.counters[args[1]]; !ok {
			return ":-2\r\n"
		}
		ttl, ok := s.expiry[args[1]]
		if !ok {
			return ":-1\r\n"
		}
		return fmt.Sprintf(":%d\r\n", int(ttl.Seconds()))
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
	}
}

func (s *legacyRedis) ttl(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl, ok := s.expiry[key]
	return ttl, ok
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array length %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestRedisRateLimiterWorksWithoutExpireOptions(t *testing.T) {
	srv := startLegacyRedis(t)
	client := redis.NewClient(&redis.Options{Addr: srv.ln.Addr().String(), Protocol: 2})
	defer client.Close()
	rl := newRedisRateLimiter(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rl.timeout = 2 * time.Second

	start := time.Now()
	for i := 1; i <= 2; i++ {
		d := rl.Allow("caller", 2, time.Minute)
		if !d.allowed || d.count != i {
			t.Fatalf("expected request %d allowed got %+v", i, d)
		}
	}
	d := rl.Allow("caller", 2, time.Minute)
	if d.allowed || d.count != 3 {
		t.Fatalf("expected third request denied got %+v", d)
	}
	if !d.windowEnd.After(start) {
		t.Fatalf("expected window end in the future got %v", d.windowEnd)
	}
	ttl, ok := srv.ttl(rl.prefix + "caller")
	if !ok || ttl != time.Minute {
		t.Fatalf("expected a one minute expiry got %v %v", ttl, ok)
	}
}

func TestRedisRateLimiterRepairsMissingExpiry(t *testing.T) {
	srv := startLegacyRedis(t)
	srv.counters["manifestor:ratelimit:caller"] = 5
	client := redis.NewClient(&redis.Options{Addr: srv.ln.Addr().String(), Protocol: 2})
	defer client.Close()
	rl := newRedisRateLimiter(client, nil)
	rl.timeout = 2 * time.Second

	if d := rl.Allow("caller", 10, 30*time.Second); !d.allowed || d.count != 6 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if ttl, ok := srv.ttl("manifestor:ratelimit:caller"); !ok || ttl != 30*time.Second {
		t.Fatalf("expected expiry restored got %v %v", ttl, ok)
	}
}
