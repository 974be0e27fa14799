// Package provider talks to the external license provider: package retrieval
// by pickup number, package confirmation and product metadata queries, all
// behind an OAuth2 client-credentials token.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/config"
	pkgerrors "github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/errors"
	"github.com/BILDUNGSLOGIN/lizenzmanager-ucs-sub000/pkg/logger"
)

const (
	licensePackagePath        = "/external/univention/v2/licensepackage"
	licensePackageConfirmPath = "/external/univention/v2/licensepackage/confirm"
	mediaQueryPath            = "/external/univention/media/query"
)

var (
	errLoggerRequired = errors.New("provider logger is required")
)

// Client wraps the provider's REST API with centralized auth, logging and
// error mapping.
type Client struct {
	http     *http.Client
	resource string
	logger   *logger.Logger
}

// NewClient validates the credentials and prepares the token source. No
// network call happens until the first request.
func NewClient(ctx context.Context, cfg config.ProviderConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthServer,
		Scopes:       []string{cfg.Scope},
	}
	httpClient := credentials.Client(ctx)
	httpClient.Timeout = cfg.Timeout

	c := &Client{
		http:     httpClient,
		resource: strings.TrimRight(cfg.ResourceServer, "/"),
		logger:   logg,
	}
	logg.Info(ctx, "provider client initialized")
	return c, nil
}

// RetrieveLicensePackage fetches the license package registered under the
// pickup number. A 208 answer means the package was retrieved before; its
// contents are returned anyway so the import can proceed idempotently.
func (c *Client) RetrieveLicensePackage(ctx context.Context, pickupNumber string) (*LicensePackage, error) {
	if pickupNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickup number required")
	}
	endpoint := fmt.Sprintf("%s%s?package_id=%s", c.resource, licensePackagePath, url.QueryEscape(pickupNumber))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAlreadyReported:
	case http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("license package %q not found", pickupNumber))
	default:
		return nil, c.unexpectedStatus("retrieve license package", resp)
	}

	var pkg LicensePackage
	if err := json.NewDecoder(resp.Body).Decode(&pkg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode license package")
	}
	pkg.AlreadyRetrieved = resp.StatusCode == http.StatusAlreadyReported
	if err := pkg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "license package failed schema validation")
	}

	c.logger.Info(c.logger.WithFields(ctx, map[string]any{
		"pickup_number":     pickupNumber,
		"licenses":          len(pkg.Licenses),
		"already_retrieved": pkg.AlreadyRetrieved,
	}), "license package retrieved")
	return &pkg, nil
}

// ConfirmLicensePackage acknowledges the package so the provider stops
// offering it. A 409 answer means someone confirmed it already; that is
// reported, not treated as a failure.
func (c *Client) ConfirmLicensePackage(ctx context.Context, pickupNumber string) (alreadyConfirmed bool, err error) {
	if pickupNumber == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "pickup number required")
	}
	body := map[string]string{"package_id": pickupNumber}
	resp, err := c.do(ctx, http.MethodPost, c.resource+licensePackageConfirmPath, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusConflict:
		return true, nil
	default:
		return false, c.unexpectedStatus("confirm license package", resp)
	}
}

// RetrieveMedia queries product metadata for the given product ids. Per-item
// status codes are passed through; the caller decides how to report products
// the provider does not know.
func (c *Client) RetrieveMedia(ctx context.Context, productIDs []string) ([]*MediaResult, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	query := make([]map[string]string, 0, len(productIDs))
	for _, id := range productIDs {
		query = append(query, map[string]string{"id": id})
	}
	resp, err := c.do(ctx, http.MethodPost, c.resource+mediaQueryPath, map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("retrieve media", resp)
	}
	var results []*MediaResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode media results")
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call provider")
	}
	return resp, nil
}

func (c *Client) unexpectedStatus(operation string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return pkgerrors.New(pkgerrors.CodeDependency,
		fmt.Sprintf("%s: provider answered %d", operation, resp.StatusCode)).
		WithDetails(map[string]any{"status": resp.StatusCode, "body": string(payload)})
}
