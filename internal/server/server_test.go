package server

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/tangle_account/internal/account"
	"github.com/congo-pay/tangle_account/internal/config"
	"github.com/congo-pay/tangle_account/internal/ledger"
	"github.com/congo-pay/tangle_account/internal/logging"
	"github.com/congo-pay/tangle_account/internal/routes"
	"github.com/congo-pay/tangle_account/internal/timesrc"
)

func TestErrorsRenderAsJSON(t *testing.T) {
	acct, err := account.New(account.Settings{
		Seed:               "PUETTSEITFEVEWCWBTSIZM9NKRGJEIMXTULBACGFRQK9IMGICLBKW9TTEVSDQMGWKBXPVCBMMCXWMNPDX",
		Provider:           "memory://",
		Depth:              3,
		MinWeightMagnitude: 9,
		Delay:              time.Minute,
		MaxDepth:           6,
		TimeSource:         timesrc.System(),
	}, ledger.NewInMemory())
	if err != nil {
		t.Fatalf("new account: %v", err)
	}

	srv, err := New(routes.Deps{
		Cfg:     config.Config{AppName: "test", AppEnv: "test", Port: "0"},
		Logger:  logging.Discard(),
		Account: acct,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/account/import", strings.NewReader("not json"))
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"error"`) || !strings.Contains(string(body), `"request_id"`) {
		t.Fatalf("expected JSON error body, got %s", body)
	}
}
