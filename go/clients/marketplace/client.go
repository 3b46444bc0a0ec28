package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/leadengine/syncgateway/go/clients"
	"github.com/leadengine/syncgateway/go/internal/auction"
)

// ErrLeadNotFound is returned by GetLead for unknown ids
var ErrLeadNotFound = errors.New("lead not found")

// Pagination is the paging block of a list response
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// LeadsResponse is the body of GET /api/v1/marketplace/leads
type LeadsResponse struct {
	Leads      []auction.Descriptor `json:"leads"`
	Pagination *Pagination          `json:"pagination,omitempty"`
}

// LeadResponse is the body of GET /api/v1/marketplace/leads/{id}
type LeadResponse struct {
	Lead auction.Descriptor `json:"lead"`
}

// Client reads lead snapshots from the marketplace REST API
type Client struct {
	*clients.BaseClient
	pageSize int
}

// NewClient creates a marketplace client. token may be empty.
func NewClient(baseURL, token string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
		pageSize:   DefaultPageSize,
	}
	if token != "" {
		client.SetHeader(AuthorizationHeader, "Bearer "+token)
	}
	return client
}

// SetPageSize overrides the page size used by ListLiveLeads.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// ListLiveLeads pages through every lead currently in auction.
func (c *Client) ListLiveLeads(ctx context.Context) ([]auction.Descriptor, error) {
	var all []auction.Descriptor
	for page := 1; page <= MaxPages; page++ {
		resp, err := c.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Leads...)

		if resp.Pagination != nil {
			if !resp.Pagination.HasMore {
				break
			}
		} else if len(resp.Leads) < c.pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) listPage(ctx context.Context, page int) (*LeadsResponse, error) {
	q := url.Values{}
	q.Set("status", auction.StatusInAuction)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))

	body, err := c.Get(ctx, LeadsEndpoint+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to get leads page %d: %w", page, err)
	}

	var response LeadsResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leads page %d: %w", page, err)
	}
	return &response, nil
}

// GetLead fetches one lead by id.
func (c *Client) GetLead(ctx context.Context, id string) (auction.Descriptor, error) {
	body, err := c.Get(ctx, LeadsEndpoint+"/"+url.PathEscape(id))
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return auction.Descriptor{}, ErrLeadNotFound
		}
		return auction.Descriptor{}, fmt.Errorf("failed to get lead %s: %w", id, err)
	}

	var response LeadResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return auction.Descriptor{}, fmt.Errorf("failed to unmarshal lead %s: %w", id, err)
	}
	return response.Lead, nil
}
