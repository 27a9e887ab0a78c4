// Package extern wraps the upstream services the pipeline depends on: the
// player-metadata service, the wiki semantic lookup, and the live price API.
// All clients share one sliding-window request budget.
package extern

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/DropTracker-io/droptracker-core/internal/platform/errors"
	"github.com/DropTracker-io/droptracker-core/internal/platform/timeouts"
)

// maxResponseBytes bounds upstream response bodies.
const maxResponseBytes = 1 << 20

// Clients bundles the upstream lookups behind one shared rate limit.
type Clients struct {
	httpClient *http.Client
	limiter    *limiter

	metadataBaseURL string
	semanticBaseURL string
	priceBaseURL    string
}

// Config carries the upstream base URLs.
type Config struct {
	MetadataBaseURL string
	SemanticBaseURL string
	PriceBaseURL    string
}

// NewClients builds the upstream clients. A nil httpClient uses a default.
func NewClients(cfg Config, httpClient *http.Client) *Clients {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.MetadataLookup}
	}
	return &Clients{
		httpClient:      httpClient,
		limiter:         newLimiter(limiterBudget, limiterWindow, time.Now),
		metadataBaseURL: strings.TrimRight(cfg.MetadataBaseURL, "/"),
		semanticBaseURL: strings.TrimRight(cfg.SemanticBaseURL, "/"),
		priceBaseURL:    strings.TrimRight(cfg.PriceBaseURL, "/"),
	}
}

func (c *Clients) getJSON(ctx context.Context, rawURL string, timeout time.Duration, out any) error {
	if err := c.limiter.wait(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeTransientUpstream, "rate limit wait", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransientUpstream, "upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.CodeNotFound, "upstream record not found")
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.CodeTransientUpstream,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransientUpstream, "read upstream response", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(apperrors.CodeTransientUpstream, "decode upstream response", err)
	}
	return nil
}

// PlayerInfo is the metadata service's view of one account.
type PlayerInfo struct {
	ID                 int64  `json:"id"`
	DisplayName        string `json:"displayName"`
	TotalLevel         int    `json:"totalLevel"`
	CollectionLogSlots int    `json:"collectionLogSlots"`
}

// PlayerMetadata looks the player up by display name.
func (c *Clients) PlayerMetadata(ctx context.Context, displayName string) (PlayerInfo, error) {
	var info PlayerInfo
	endpoint := fmt.Sprintf("%s/players/%s", c.metadataBaseURL, url.PathEscape(displayName))
	if err := c.getJSON(ctx, endpoint, timeouts.MetadataLookup, &info); err != nil {
		return PlayerInfo{}, err
	}
	return info, nil
}

// GroupRoster lists the member display names of one external group.
func (c *Clients) GroupRoster(ctx context.Context, externalGroupID int64) ([]string, error) {
	var payload struct {
		Memberships []struct {
			Player PlayerInfo `json:"player"`
		} `json:"memberships"`
	}
	endpoint := fmt.Sprintf("%s/groups/%d", c.metadataBaseURL, externalGroupID)
	if err := c.getJSON(ctx, endpoint, timeouts.MetadataLookup, &payload); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(payload.Memberships))
	for _, m := range payload.Memberships {
		if m.Player.DisplayName != "" {
			names = append(names, m.Player.DisplayName)
		}
	}
	return names, nil
}

// ItemID resolves an item name to its game id via the semantic lookup.
func (c *Clients) ItemID(ctx context.Context, itemName string) (int64, error) {
	var payload struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	}
	endpoint := fmt.Sprintf("%s/lookup?name=%s", c.semanticBaseURL, url.QueryEscape(itemName))
	if err := c.getJSON(ctx, endpoint, timeouts.SemanticLookup, &payload); err != nil {
		return 0, err
	}
	if len(payload.Results) == 0 {
		return 0, apperrors.New(apperrors.CodeUnknownReference,
			fmt.Sprintf("item %q is unknown upstream", itemName))
	}
	return payload.Results[0].ID, nil
}

// NPCID resolves an NPC name to its game id via the semantic lookup.
func (c *Clients) NPCID(ctx context.Context, npcName string) (int64, error) {
	var payload struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	}
	endpoint := fmt.Sprintf("%s/lookup?type=npc&name=%s", c.semanticBaseURL, url.QueryEscape(npcName))
	if err := c.getJSON(ctx, endpoint, timeouts.SemanticLookup, &payload); err != nil {
		return 0, err
	}
	if len(payload.Results) == 0 {
		return 0, apperrors.New(apperrors.CodeUnknownReference,
			fmt.Sprintf("npc %q is unknown upstream", npcName))
	}
	return payload.Results[0].ID, nil
}

// DropVerified asks the semantic service whether the item is a known drop
// from the NPC. Consulted for high-value drops only.
func (c *Clients) DropVerified(ctx context.Context, itemName, npcName string) (bool, error) {
	var payload struct {
		Drops bool `json:"drops"`
	}
	endpoint := fmt.Sprintf("%s/drops?item=%s&npc=%s",
		c.semanticBaseURL, url.QueryEscape(itemName), url.QueryEscape(npcName))
	if err := c.getJSON(ctx, endpoint, timeouts.SemanticLookup, &payload); err != nil {
		return false, err
	}
	return payload.Drops, nil
}

// KillCount reads the player's kill count at an NPC from the metadata
// service.
func (c *Clients) KillCount(ctx context.Context, displayName, npcName string) (int64, error) {
	var payload struct {
		KillCount int64 `json:"killCount"`
	}
	endpoint := fmt.Sprintf("%s/players/%s/kc?npc=%s",
		c.metadataBaseURL, url.PathEscape(displayName), url.QueryEscape(npcName))
	if err := c.getJSON(ctx, endpoint, timeouts.MetadataLookup, &payload); err != nil {
		return 0, err
	}
	return payload.KillCount, nil
}

// Price returns the current guide price for an item name. Satisfies
// domain.PriceFunc.
func (c *Clients) Price(ctx context.Context, itemName string) (int64, error) {
	var payload struct {
		Price int64 `json:"price"`
	}
	endpoint := fmt.Sprintf("%s/price?name=%s", c.priceBaseURL, url.QueryEscape(itemName))
	if err := c.getJSON(ctx, endpoint, timeouts.PriceLookup, &payload); err != nil {
		return 0, err
	}
	return payload.Price, nil
}
