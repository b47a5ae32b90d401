// Package withings talks to the Withings wearable API. Every endpoint is a
// form-encoded POST returning a {status, body} envelope where status 0 means
// success; everything else here builds on that one helper.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ronkazari-wq/lifemaster-health-api/internal/logging"
)

const defaultAPIBase = "https://wbsapi.withings.net"

// Withings measurement types used by the normalizer.
const (
	TypeWeight      = 1
	TypeDiastolicBP = 9
	TypeSystolicBP  = 10
	TypeHeartPulse  = 11
	TypeSpO2        = 54
	TypeHRVSDNN     = 135
)

// APIError is a non-zero provider status or transport failure.
type APIError struct {
	Action  string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("withings %s failed: status=%d %s", e.Action, e.Status, e.Message)
}

// Client is a bearer-authenticated Withings API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Withings API client
func NewClient() *Client {
	return &Client{
		baseURL: defaultAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a client against a custom base URL (tests)
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = baseURL
	return c
}

type envelope struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
	Error  string          `json:"error"`
}

// PostForm performs a form-encoded POST against the given API path and
// decodes the envelope body into out when the provider status is 0.
func (c *Client) PostForm(ctx context.Context, path, accessToken string, params url.Values, out interface{}) error {
	action := params.Get("action")
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.LogProviderCall(action, -1, time.Since(start), err)
		return &APIError{Action: action, Status: -1, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Action: action, Status: -1, Message: err.Error()}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{Action: action, Status: -1, Message: "unparseable response: " + err.Error()}
	}

	logging.LogProviderCall(action, env.Status, time.Since(start), nil)

	if env.Status != 0 {
		return &APIError{Action: action, Status: env.Status, Message: env.Error}
	}

	if out != nil && len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, out); err != nil {
			return &APIError{Action: action, Status: -1, Message: "unparseable body: " + err.Error()}
		}
	}
	return nil
}

// Measure is one raw reading: actual value = Value * 10^Unit
type Measure struct {
	Value int64 `json:"value"`
	Type  int   `json:"type"`
	Unit  int   `json:"unit"`
}

// MeasureGroup is one provider measurement group
type MeasureGroup struct {
	GrpID    int64     `json:"grpid"`
	Date     int64     `json:"date"` // epoch seconds, provider-reported
	Category int       `json:"category"`
	Measures []Measure `json:"measures"`
}

type measureBody struct {
	MeasureGroups []MeasureGroup `json:"measuregrps"`
}

// GetMeasures fetches measurement groups of the given types over [start, end)
func (c *Client) GetMeasures(ctx context.Context, accessToken string, types []int, start, end time.Time) ([]MeasureGroup, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = strconv.Itoa(t)
	}

	params := url.Values{
		"action":    {"getmeas"},
		"meastypes": {strings.Join(typeStrs, ",")},
		"category":  {"1"}, // real measurements, not objectives
		"startdate": {strconv.FormatInt(start.Unix(), 10)},
		"enddate":   {strconv.FormatInt(end.Unix(), 10)},
	}

	var body measureBody
	if err := c.PostForm(ctx, "/measure", accessToken, params, &body); err != nil {
		return nil, err
	}
	return body.MeasureGroups, nil
}

// SleepData carries the summary fields the snapshot cares about
type SleepData struct {
	SleepScore     *float64 `json:"sleep_score"`
	TotalSleepTime *float64 `json:"total_sleep_time"` // seconds
	TotalTimeInBed *float64 `json:"total_timeinbed"`  // seconds
}

// SleepSummary is one sleep session as reported by the provider
type SleepSummary struct {
	StartDate int64     `json:"startdate"` // epoch seconds
	EndDate   int64     `json:"enddate"`
	Date      string    `json:"date"`
	Data      SleepData `json:"data"`
}

type sleepBody struct {
	Series []SleepSummary `json:"series"`
}

// GetSleepSummaries fetches sleep sessions for the given local date range (YYYY-MM-DD)
func (c *Client) GetSleepSummaries(ctx context.Context, accessToken, startYMD, endYMD string) ([]SleepSummary, error) {
	params := url.Values{
		"action":       {"getsummary"},
		"startdateymd": {startYMD},
		"enddateymd":   {endYMD},
		"data_fields":  {"sleep_score,total_sleep_time,total_timeinbed"},
	}

	var body sleepBody
	if err := c.PostForm(ctx, "/v2/sleep", accessToken, params, &body); err != nil {
		return nil, err
	}
	return body.Series, nil
}
