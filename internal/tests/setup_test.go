package tests

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phonedesk/server/internal/auth"
	"github.com/phonedesk/server/internal/chat"
	"github.com/phonedesk/server/internal/db"
	httphandler "github.com/phonedesk/server/internal/http"
	"github.com/phonedesk/server/internal/http/handlers"
	"github.com/phonedesk/server/internal/metrics"
	"github.com/phonedesk/server/internal/middleware"
	"github.com/phonedesk/server/internal/phonechange"
	"github.com/phonedesk/server/internal/repo"
	"github.com/phonedesk/server/internal/verification"
)

const (
	testSecret = "test-record-secret"
	testSalt   = "test-salt"
)

// outbox captures the texts a StoreIssuer would send by SMS
type outbox struct {
	mu   sync.Mutex
	last map[string]string
}

func newOutbox() *outbox {
	return &outbox{last: make(map[string]string)}
}

func (o *outbox) Send(ctx context.Context, phone, text string) error {
	o.mu.Lock()
	o.last[phone] = text
	o.mu.Unlock()
	return nil
}

// Code extracts the six-digit code from the last text sent to phone
func (o *outbox) Code(t *testing.T, phone string) string {
	t.Helper()
	o.mu.Lock()
	text := o.last[phone]
	o.mu.Unlock()
	for i := 0; i+6 <= len(text); i++ {
		if isDigits(text[i : i+6]) {
			return text[i : i+6]
		}
	}
	t.Fatalf("no code sent to %s", phone)
	return ""
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type serverOptions struct {
	issuer    phonechange.CodeIssuer
	signer    *auth.RecordSigner
	rateLimit int
}

type testServer struct {
	Server  *httptest.Server
	Metrics *metrics.Metrics
}

func (ts *testServer) BaseURL() string {
	return ts.Server.URL
}

// newTestServer wires the full router the way cmd/api does, with zero stream
// delay so tests stay fast
func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	if opts.issuer == nil {
		opts.issuer = verification.NewDemoIssuer()
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	m := metrics.New()
	service := chat.NewService(phonechange.NewHandler(opts.issuer), opts.signer, m)
	router := httphandler.NewRouter(httphandler.Deps{
		Chat:        handlers.NewChatHandler(service),
		Stream:      handlers.NewStreamHandler(0, func(time.Duration) {}, m),
		Metrics:     m,
		ChatLimiter: middleware.NewRateLimiter(time.Minute, opts.rateLimit),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, Metrics: m}
}

// openTestDB connects to DATABASE_URL, migrates and truncates, or skips the
// test when no database is configured
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres test")
	}

	ctx := context.Background()
	database, err := db.Open(ctx, databaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	require.NoError(t, db.TruncateCodes(ctx, database))
	return database
}

// newStoreIssuer returns a store-backed issuer over codes plus the outbox it
// sends to
func newStoreIssuer(codes repo.CodeRepo) (*verification.StoreIssuer, *outbox) {
	box := newOutbox()
	return verification.NewStoreIssuer(codes, box, testSalt, time.Minute), box
}
