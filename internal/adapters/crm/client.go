package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/astra-sip-agent/internal/domain"
	"github.com/ClareAI/astra-sip-agent/pkg/logger"
	"go.uber.org/zap"
)

// Client handles communication with an AmoCRM-style record system using a
// long-lived access token. All calls are plain synchronous HTTP; retry policy
// is the caller's concern.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// Lead represents a CRM deal bound to a caller.
type Lead struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	StatusID int    `json:"status_id"`
}

// Contact represents a CRM contact with its embedded leads.
type Contact struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Leads []struct {
			ID int `json:"id"`
		} `json:"leads"`
	} `json:"_embedded"`
}

type contactsResponse struct {
	Embedded struct {
		Contacts []Contact `json:"contacts"`
	} `json:"_embedded"`
}

// CustomField is the CRM metadata of one lead custom field.
type CustomField struct {
	ID    int                 `json:"id"`
	Name  string              `json:"name"`
	Type  string              `json:"type"`
	Enums []domain.EnumChoice `json:"enums"`
}

type customFieldsResponse struct {
	Embedded struct {
		CustomFields []CustomField `json:"custom_fields"`
	} `json:"_embedded"`
}

// NewClient creates a CRM client for the given account subdomain.
func NewClient(subdomain, accessToken string) *Client {
	return &Client{
		BaseURL:     fmt.Sprintf("https://%s.amocrm.ru", subdomain),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, query map[string]string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("CRM request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read CRM response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("CRM returned status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode CRM response: %w", err)
		}
	}
	return nil
}

// FindContactByPhone looks up a contact by phone number with its embedded
// leads. Returns nil when nothing matches.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	var resp contactsResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v4/contacts", map[string]string{
		"query": phone,
		"with":  "leads",
		"limit": "10",
	}, nil, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedded.Contacts) == 0 {
		return nil, nil
	}
	return &resp.Embedded.Contacts[0], nil
}

// GetCustomFields lists the lead custom field metadata for the account.
func (c *Client) GetCustomFields(ctx context.Context) ([]CustomField, error) {
	var resp customFieldsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v4/leads/custom_fields", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Embedded.CustomFields, nil
}

// UpdateLeadStatus moves a lead to the given pipeline status.
func (c *Client) UpdateLeadStatus(ctx context.Context, leadID, statusID int) error {
	endpoint := fmt.Sprintf("/api/v4/leads/%d", leadID)
	body := map[string]interface{}{"status_id": statusID}
	return c.doRequest(ctx, http.MethodPatch, endpoint, nil, body, nil)
}

// WriteField writes a single custom field on a lead, encoding the value
// according to its declared CRM type. Select/multiselect values are resolved
// to enum ids against the provided choices; unmatched values are sent as-is.
func (c *Client) WriteField(ctx context.Context, leadID, fieldID int, fieldType domain.FieldType, value string, choices []domain.EnumChoice) error {
	values := encodeFieldValues(fieldType, value, choices)
	if len(values) == 0 {
		return fmt.Errorf("no values encoded for field %d", fieldID)
	}

	endpoint := fmt.Sprintf("/api/v4/leads/%d", leadID)
	body := map[string]interface{}{
		"custom_fields_values": []map[string]interface{}{
			{"field_id": fieldID, "values": values},
		},
	}
	if err := c.doRequest(ctx, http.MethodPatch, endpoint, nil, body, nil); err != nil {
		return err
	}
	logger.Base().Info("CRM field written",
		zap.Int("lead_id", leadID),
		zap.Int("field_id", fieldID),
		zap.String("type", string(fieldType)))
	return nil
}

func encodeFieldValues(fieldType domain.FieldType, value string, choices []domain.EnumChoice) []map[string]interface{} {
	switch fieldType {
	case domain.FieldTypeNumeric:
		if n, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return []map[string]interface{}{{"value": n}}
		}
		return []map[string]interface{}{{"value": value}}

	case domain.FieldTypeCheckbox:
		v := strings.ToLower(strings.TrimSpace(value))
		truthy := v == "true" || v == "1" || v == "yes" || v == "on" || v == "да"
		return []map[string]interface{}{{"value": truthy}}

	case domain.FieldTypeSelect:
		if id, ok := lookupEnumID(choices, firstValue(value)); ok {
			return []map[string]interface{}{{"enum_id": id}}
		}
		return []map[string]interface{}{{"value": value}}

	case domain.FieldTypeMultiselect:
		out := make([]map[string]interface{}, 0, 4)
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if id, ok := lookupEnumID(choices, part); ok {
				out = append(out, map[string]interface{}{"enum_id": id})
			} else {
				out = append(out, map[string]interface{}{"value": part})
			}
		}
		return out

	default: // text, textarea, date and anything unrecognised go through verbatim
		return []map[string]interface{}{{"value": value}}
	}
}

func firstValue(value string) string {
	if i := strings.Index(value, ","); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func lookupEnumID(choices []domain.EnumChoice, value string) (int, bool) {
	for _, choice := range choices {
		if strings.EqualFold(choice.Value, value) {
			return choice.ID, true
		}
	}
	return 0, false
}
