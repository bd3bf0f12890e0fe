package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNotFound = errors.New("census: not found")
	ErrAPI      = errors.New("census: api error")
)

const DefaultRESTBase = "https://census.daybreakgames.com"

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL    string
	ServiceID  string
	Namespace  string
	RatePerSec float64
	Burst      int
	CacheTTL   time.Duration
	Timeout    time.Duration
}

// Client is a small Census REST client used for name/id resolution and
// online-status checks. Requests are throttled and results cached.
//
// It is safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	val   string
	until time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func withClock(now func() time.Time) ClientOption { return func(c *Client) { c.now = now } }

func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultRESTBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ServiceID == "" {
		cfg.ServiceID = "example"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "ps2:v2"
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cache:   map[string]cacheEntry{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveCharacterID maps a character name to its id.
func (c *Client) ResolveCharacterID(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", ErrNotFound
	}
	return c.cached(ctx, "char:"+name, func(ctx context.Context) (string, error) {
		var out struct {
			List []struct {
				CharacterID string `json:"character_id"`
			} `json:"character_list"`
		}
		q := url.Values{"name.first_lower": {name}, "c:show": {"character_id"}}
		if err := c.get(ctx, "character", q, &out); err != nil {
			return "", err
		}
		if len(out.List) == 0 || out.List[0].CharacterID == "" {
			return "", fmt.Errorf("character %q: %w", name, ErrNotFound)
		}
		return out.List[0].CharacterID, nil
	})
}

// ResolveOutfitID maps an outfit tag (alias) or full name to its id.
// The tag is tried first.
func (c *Client) ResolveOutfitID(ctx context.Context, tagOrName string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(tagOrName))
	if key == "" {
		return "", ErrNotFound
	}
	return c.cached(ctx, "outfit:"+key, func(ctx context.Context) (string, error) {
		for _, field := range []string{"alias_lower", "name_lower"} {
			var out struct {
				List []struct {
					OutfitID string `json:"outfit_id"`
				} `json:"outfit_list"`
			}
			q := url.Values{field: {key}, "c:show": {"outfit_id"}}
			if err := c.get(ctx, "outfit", q, &out); err != nil {
				return "", err
			}
			if len(out.List) > 0 && out.List[0].OutfitID != "" {
				return out.List[0].OutfitID, nil
			}
		}
		return "", fmt.Errorf("outfit %q: %w", tagOrName, ErrNotFound)
	})
}

// CharacterName returns the display name for a character id.
func (c *Client) CharacterName(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "0" {
		return "", ErrNotFound
	}
	return c.cached(ctx, "name:"+id, func(ctx context.Context) (string, error) {
		var out struct {
			List []struct {
				Name struct {
					First string `json:"first"`
				} `json:"name"`
			} `json:"character_list"`
		}
		q := url.Values{"character_id": {id}, "c:show": {"name"}}
		if err := c.get(ctx, "character", q, &out); err != nil {
			return "", err
		}
		if len(out.List) == 0 || out.List[0].Name.First == "" {
			return "", fmt.Errorf("character %s: %w", id, ErrNotFound)
		}
		return out.List[0].Name.First, nil
	})
}

// OutfitOf returns the outfit id a character belongs to.
func (c *Client) OutfitOf(ctx context.Context, characterID string) (string, error) {
	characterID = strings.TrimSpace(characterID)
	if characterID == "" || characterID == "0" {
		return "", ErrNotFound
	}
	return c.cached(ctx, "member:"+characterID, func(ctx context.Context) (string, error) {
		var out struct {
			List []struct {
				OutfitID string `json:"outfit_id"`
			} `json:"outfit_member_list"`
		}
		q := url.Values{"character_id": {characterID}, "c:show": {"outfit_id"}}
		if err := c.get(ctx, "outfit_member", q, &out); err != nil {
			return "", err
		}
		if len(out.List) == 0 || out.List[0].OutfitID == "" {
			return "", fmt.Errorf("outfit of %s: %w", characterID, ErrNotFound)
		}
		return out.List[0].OutfitID, nil
	})
}

// FacilityName returns the facility's display name.
func (c *Client) FacilityName(ctx context.Context, facilityID string) (string, error) {
	facilityID = strings.TrimSpace(facilityID)
	if facilityID == "" {
		return "", ErrNotFound
	}
	return c.cached(ctx, "facility:"+facilityID, func(ctx context.Context) (string, error) {
		var out struct {
			List []struct {
				FacilityName string `json:"facility_name"`
			} `json:"map_region_list"`
		}
		q := url.Values{"facility_id": {facilityID}, "c:show": {"facility_name"}}
		if err := c.get(ctx, "map_region", q, &out); err != nil {
			return "", err
		}
		if len(out.List) == 0 || out.List[0].FacilityName == "" {
			return "", fmt.Errorf("facility %s: %w", facilityID, ErrNotFound)
		}
		return out.List[0].FacilityName, nil
	})
}

// OnlineStatus reports whether a character is currently logged in.
// It is never cached.
func (c *Client) OnlineStatus(ctx context.Context, characterID string) (bool, error) {
	var out struct {
		List []struct {
			OnlineStatus string `json:"online_status"`
		} `json:"characters_online_status_list"`
	}
	q := url.Values{"character_id": {strings.TrimSpace(characterID)}}
	if err := c.get(ctx, "characters_online_status", q, &out); err != nil {
		return false, err
	}
	if len(out.List) == 0 {
		return false, fmt.Errorf("online status of %s: %w", characterID, ErrNotFound)
	}
	s := strings.TrimSpace(out.List[0].OnlineStatus)
	return s != "" && s != "0", nil
}

func (c *Client) cached(ctx context.Context, key string, fetch func(context.Context) (string, error)) (string, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.cache[key]; ok && now.Before(e.until) {
		c.mu.Unlock()
		return e.val, nil
	}
	c.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{val: v, until: now.Add(c.cfg.CacheTTL)}
	if len(c.cache) > 4096 {
		for k, e := range c.cache {
			if !now.Before(e.until) {
				delete(c.cache, k)
			}
		}
	}
	c.mu.Unlock()
	return v, nil
}

func (c *Client) endpoint(collection string, q url.Values) string {
	return fmt.Sprintf("%s/s:%s/get/%s/%s/?%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.ServiceID), c.cfg.Namespace, collection, q.Encode())
}

func (c *Client) get(ctx context.Context, collection string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(collection, q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("census %s: %w", collection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("census %s: read body: %w", collection, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: http %d", ErrAPI, collection, resp.StatusCode)
	}

	// Census reports failures with 200 and an "error" or "errorCode" field.
	var apiErr struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Error != "" || apiErr.ErrorCode != "") {
		return fmt.Errorf("%w: %s: %s%s", ErrAPI, collection, apiErr.ErrorCode, apiErr.Error)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("census %s: decode: %w", collection, err)
	}
	return nil
}
