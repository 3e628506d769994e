package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"hospital.org/internal/config"
	"hospital.org/internal/obs"
)

var (
	baseURL  string
	grpcAddr string
	timeout  time.Duration
)

type client struct {
	base  string
	http  *http.Client
	token string
	log   zerolog.Logger
}

func (c *client) call(ctx context.Context, method, path string, body, out any, want int) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if got := resp.Header.Get("X-Request-ID"); got != rid {
		return fmt.Errorf("%s %s: request id not echoed (%q)", method, path, got)
	}
	c.log.Info().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Str("request_id", rid).Msg("ok")
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func runSmoke(ctx context.Context, c *client) error {
	if err := c.call(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK); err != nil {
		return err
	}
	if err := c.call(ctx, http.MethodGet, "/patients/profile", nil, nil, http.StatusUnauthorized); err != nil {
		return err
	}

	username := fmt.Sprintf("smoke-%s@example.com", uuid.NewString()[:8])
	creds := map[string]string{"username": username, "password": "smoke-" + uuid.NewString()}
	if err := c.call(ctx, http.MethodPost, "/auth/signup", creds, nil, http.StatusCreated); err != nil {
		return err
	}
	var login struct {
		Token  string `json:"jwt"`
		UserID int64  `json:"user_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/auth/login", creds, &login, http.StatusOK); err != nil {
		return err
	}
	c.token = login.Token

	var profile struct {
		ID int64 `json:"id"`
	}
	if err := c.call(ctx, http.MethodGet, "/patients/profile", nil, &profile, http.StatusOK); err != nil {
		return err
	}
	if profile.ID != login.UserID {
		return fmt.Errorf("profile id %d does not match account %d", profile.ID, login.UserID)
	}
	if err := c.call(ctx, http.MethodGet, "/admin/patients", nil, nil, http.StatusForbidden); err != nil {
		return err
	}
	return c.call(ctx, http.MethodGet, "/public/doctors", nil, nil, http.StatusOK)
}

// checkGRPCHealth asks the side-car health service for the API's status.
func checkGRPCHealth(ctx context.Context, target string, log zerolog.Logger) error {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "hospital-api"})
	if err != nil {
		return fmt.Errorf("grpc health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health: %s", resp.GetStatus())
	}
	log.Info().Str("target", target).Str("status", resp.GetStatus().String()).Msg("grpc health ok")
	return nil
}

func main() {
	log := obs.NewLogger(config.LogConfig{Level: "info", Format: "console"}, os.Stderr)

	root := &cobra.Command{
		Use:           "smoke",
		Short:         "Exercise signup, login and role checks against a running API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c := &client{
				base: strings.TrimRight(baseURL, "/"),
				http: &http.Client{Timeout: 10 * time.Second},
				log:  log,
			}
			if err := runSmoke(ctx, c); err != nil {
				return err
			}
			if grpcAddr != "" {
				if err := checkGRPCHealth(ctx, grpcAddr, log); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "smoke test passed")
			return nil
		},
	}
	root.Flags().StringVar(&baseURL, "base-url", config.Getenv("SMOKE_BASE_URL", "http://localhost:8080"), "API base URL")
	root.Flags().StringVar(&grpcAddr, "grpc-addr", config.Getenv("SMOKE_GRPC_ADDR", ""), "Optional gRPC health address")
	root.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("smoke test failed")
		os.Exit(1)
	}
}
