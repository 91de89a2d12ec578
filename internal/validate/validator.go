// Package validate decides whether a recipient address is deliverable.
//
// The decision combines a static local-domain rule (used when the platform
// API is not configured) with three platform lookups. A confirmed negative
// from the platform rejects; a lookup failure at any stage accepts, so a
// platform outage never bounces legitimate mail.
package validate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/restmail/restmail-receiver/internal/api"
	"github.com/restmail/restmail-receiver/internal/metrics"
	"github.com/restmail/restmail-receiver/internal/parser"
)

// LookupClient is the subset of the platform client the pipeline needs.
// *api.Client implements it; tests substitute fakes.
type LookupClient interface {
	LookupDomain(ctx context.Context, domain string) (*api.DomainLookupResponse, error)
	LookupEmail(ctx context.Context, address string) (*api.EmailLookupResponse, error)
	LookupAlias(ctx context.Context, address string) (*api.AliasLookupResponse, error)
}

// Validator holds the pipeline's immutable inputs. API mode is decided
// once at construction: client is nil exactly when the platform API is
// unconfigured, and then only the static rule applies.
type Validator struct {
	client      LookupClient
	localDomain string
}

// New creates a Validator. Pass a nil client to run in static fallback
// mode against localDomain.
func New(client LookupClient, localDomain string) *Validator {
	return &Validator{client: client, localDomain: localDomain}
}

// IsDeliverable reports whether mail for addr should be accepted. It never
// fails; every internal error collapses to a boolean per the fail-open
// policy documented on the package.
func (v *Validator) IsDeliverable(ctx context.Context, addr string) bool {
	if v.client == nil {
		ok := strings.HasSuffix(addr, "@"+v.localDomain)
		metrics.LookupsTotal.WithLabelValues("fallback", result(ok)).Inc()
		return ok
	}

	domain, ok := parser.ExtractDomain(addr)
	if !ok {
		metrics.LookupsTotal.WithLabelValues("domain", "malformed").Inc()
		return false
	}

	domainResp, err := v.client.LookupDomain(ctx, domain)
	if err != nil {
		slog.Warn("domain lookup failed, accepting recipient", "domain", domain, "error", err)
		metrics.LookupsTotal.WithLabelValues("domain", "error").Inc()
		return true
	}
	if !domainResp.Exists || !domainResp.IsActive {
		metrics.LookupsTotal.WithLabelValues("domain", "rejected").Inc()
		return false
	}
	metrics.LookupsTotal.WithLabelValues("domain", "active").Inc()

	emailResp, err := v.client.LookupEmail(ctx, addr)
	if err != nil {
		slog.Warn("email lookup failed, accepting recipient", "error", err)
		metrics.LookupsTotal.WithLabelValues("email", "error").Inc()
		return true
	}
	if emailResp.Exists {
		metrics.LookupsTotal.WithLabelValues("email", "matched").Inc()
		return true
	}

	aliasResp, err := v.client.LookupAlias(ctx, addr)
	if err != nil {
		slog.Warn("alias lookup failed, accepting recipient", "error", err)
		metrics.LookupsTotal.WithLabelValues("alias", "error").Inc()
		return true
	}
	if aliasResp.IsAlias {
		metrics.LookupsTotal.WithLabelValues("alias", "matched").Inc()
		return true
	}

	metrics.LookupsTotal.WithLabelValues("alias", "unknown").Inc()
	return false
}

func result(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
