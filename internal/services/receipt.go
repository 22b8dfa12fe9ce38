package services

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

	types "github.com/bandforge/ielts-backend/internal/domain"
	"github.com/bandforge/ielts-backend/internal/pkg/apperr"
	"github.com/bandforge/ielts-backend/internal/pkg/envutil"
	"github.com/bandforge/ielts-backend/internal/pkg/httpx"
	"github.com/bandforge/ielts-backend/internal/platform/logger"
)

// VerifiedReceipt is the normalized result of store-side verification.
// ProductID maps one-to-one onto an assessment type.
type VerifiedReceipt struct {
	ProductID string
	Attempts  int
}

type ReceiptVerifier interface {
	Verify(ctx context.Context, platform, receipt string) (*VerifiedReceipt, error)
}

type receiptVerifier struct {
	log        *logger.Logger
	verifyURL  string
	apiKey     string
	httpClient *http.Client
	retry      httpx.RetryPolicy
}

func NewReceiptVerifier(baseLog *logger.Logger) (ReceiptVerifier, error) {
	verifyURL := strings.TrimSpace(os.Getenv("RECEIPT_VERIFY_URL"))
	if verifyURL == "" {
		return nil, fmt.Errorf("missing RECEIPT_VERIFY_URL")
	}

	timeout := envutil.Seconds("RECEIPT_VERIFY_TIMEOUT_SECONDS", 15*time.Second)

	return &receiptVerifier{
		log:        baseLog.With("service", "ReceiptVerifier"),
		verifyURL:  verifyURL,
		apiKey:     os.Getenv("RECEIPT_API_KEY"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      httpx.DefaultRetryPolicy(),
	}, nil
}

type receiptVerifyRequest struct {
	Platform string `json:"platform"`
	Receipt  string `json:"receipt"`
}

type receiptVerifyResponse struct {
	Valid     bool   `json:"valid"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (rv *receiptVerifier) Verify(ctx context.Context, platform, receipt string) (*VerifiedReceipt, error) {
	if strings.TrimSpace(receipt) == "" {
		return nil, fmt.Errorf("%w: empty receipt", apperr.ErrValidation)
	}

	var out receiptVerifyResponse
	err := rv.retry.Do(ctx, func(ctx context.Context) error {
		return rv.doOnce(ctx, receiptVerifyRequest{Platform: platform, Receipt: receipt}, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("verify receipt: %w", err)
	}

	if !out.Valid {
		return nil, fmt.Errorf("%w: receipt rejected by store", apperr.ErrValidation)
	}
	if _, err := types.ParseAssessmentType(out.ProductID); err != nil {
		return nil, fmt.Errorf("%w: unknown product %q", apperr.ErrValidation, out.ProductID)
	}

	attempts := out.Quantity
	if attempts <= 0 {
		attempts = envutil.Int("ENTITLEMENT_DEFAULT_ATTEMPTS", 4)
	}
	return &VerifiedReceipt{ProductID: out.ProductID, Attempts: attempts}, nil
}

func (rv *receiptVerifier) doOnce(ctx context.Context, body receiptVerifyRequest, out *receiptVerifyResponse) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rv.verifyURL, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if rv.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+rv.apiKey)
	}

	resp, err := rv.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &verifierHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.Unmarshal(raw, out)
}

type verifierHTTPError struct {
	StatusCode int
	Body       string
}

func (e *verifierHTTPError) Error() string {
	return fmt.Sprintf("receipt verifier http %d: %s", e.StatusCode, e.Body)
}

func (e *verifierHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}
