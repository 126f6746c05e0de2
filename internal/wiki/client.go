package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"trestle/internal/config"
	"trestle/internal/logging"
	"trestle/internal/services"
)

// Client edits submission pages on a MediaWiki instance. The login session
// (cookies + CSRF token) is acquired lazily and re-acquired when the API
// signals expiry.
type Client struct {
	apiURL     string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	editToken string
}

// NewClient builds a wiki client from configuration.
func NewClient(cfg config.Wiki, logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Jar: jar, Timeout: 30 * time.Second},
		logger:     logging.NewComponentLogger(logger, "wiki"),
	}
}

// Configured reports whether bot credentials are present.
func (c *Client) Configured() bool {
	return c.apiURL != "" && c.username != "" && c.password != ""
}

// UpdateSubmissionCID records a content identifier on a submission page's
// template. Returns the action taken: "updated", "unchanged".
func (c *Client) UpdateSubmissionCID(ctx context.Context, submissionID, cid string) (string, error) {
	if !c.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "wiki", "update submission", "bot credentials not configured", nil)
	}

	title := "Submission/" + submissionID
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	content, err := c.pageContent(ctx, title)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", services.Wrap(services.ErrNotFound, "wiki", "update submission", fmt.Sprintf("page %s not found", title), nil)
	}

	updated, changed, err := updateTemplateField(content, "ipfs_cid", cid)
	if err != nil {
		return "", err
	}
	if !changed {
		return "unchanged", nil
	}

	summary := fmt.Sprintf("Add IPFS CID: %s...", truncate(cid, 20))
	if err := c.savePage(ctx, title, updated, summary, true); err != nil {
		return "", err
	}

	c.logger.Info("submission page updated",
		logging.String("title", title),
		logging.String(logging.FieldCID, cid),
	)
	return "updated", nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editToken != "" {
		return nil
	}
	return c.loginLocked(ctx)
}

// resetSession drops the cached token so the next call logs in again.
func (c *Client) resetSession() {
	c.mu.Lock()
	c.editToken = ""
	c.mu.Unlock()
}

func (c *Client) loginLocked(ctx context.Context) error {
	loginToken, err := c.fetchToken(ctx, "login")
	if err != nil {
		return err
	}

	form := url.Values{
		"action":     {"login"},
		"lgname":     {c.username},
		"lgpassword": {c.password},
		"lgtoken":    {loginToken},
		"format":     {"json"},
	}
	var result struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	if err := c.postForm(ctx, form, &result); err != nil {
		return err
	}
	if result.Login.Result != "Success" {
		return services.Wrap(services.ErrConfiguration, "wiki", "login",
			fmt.Sprintf("login rejected: %s", result.Login.Reason), nil)
	}

	c.editToken, err = c.fetchToken(ctx, "csrf")
	if err != nil {
		return err
	}
	c.logger.Info("logged in", logging.String("user", c.username))
	return nil
}

func (c *Client) fetchToken(ctx context.Context, kind string) (string, error) {
	endpoint := fmt.Sprintf("%s/api.php?action=query&meta=tokens&type=%s&format=json", c.apiURL, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s token: %w", kind, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := payload.Query.Tokens[kind+"token"]
	if token == "" {
		return "", fmt.Errorf("%s token missing from response", kind)
	}
	return token, nil
}

func (c *Client) pageContent(ctx context.Context, title string) (string, error) {
	endpoint := fmt.Sprintf(
		"%s/api.php?action=query&titles=%s&prop=revisions&rvprop=content&rvslots=main&format=json",
		c.apiURL, url.QueryEscape(title),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build page request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Missing   *string `json:"missing"`
				Revisions []struct {
					Slots struct {
						Main struct {
							Content string `json:"*"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode page response: %w", err)
	}

	for id, page := range payload.Query.Pages {
		if id == "-1" || page.Missing != nil || len(page.Revisions) == 0 {
			return "", nil
		}
		return page.Revisions[0].Slots.Main.Content, nil
	}
	return "", nil
}

func (c *Client) savePage(ctx context.Context, title, content, summary string, retryOnExpiry bool) error {
	c.mu.Lock()
	token := c.editToken
	c.mu.Unlock()

	form := url.Values{
		"action":  {"edit"},
		"title":   {title},
		"text":    {content},
		"summary": {summary},
		"token":   {token},
		"format":  {"json"},
	}
	var result struct {
		Error *struct {
			Code string `json:"code"`
			Info string `json:"info"`
		} `json:"error"`
	}
	if err := c.postForm(ctx, form, &result); err != nil {
		return err
	}
	if result.Error != nil {
		if retryOnExpiry && (result.Error.Code == "badtoken" || result.Error.Code == "assertuserfailed") {
			c.resetSession()
			if err := c.ensureSession(ctx); err != nil {
				return err
			}
			return c.savePage(ctx, title, content, summary, false)
		}
		return fmt.Errorf("edit rejected: %s", result.Error.Info)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api.php", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var templatePattern = regexp.MustCompile(`(?is)(\{\{Submission\s*)(.*?)(\}\})`)

// updateTemplateField sets a field inside the {{Submission}} template,
// adding it when absent. The boolean reports whether the wikitext changed.
func updateTemplateField(wikitext, field, value string) (string, bool, error) {
	loc := templatePattern.FindStringSubmatchIndex(wikitext)
	if loc == nil {
		return "", false, fmt.Errorf("submission template not found in page")
	}

	start := wikitext[loc[2]:loc[3]]
	body := wikitext[loc[4]:loc[5]]
	end := wikitext[loc[6]:loc[7]]

	fieldPattern := regexp.MustCompile(`(?i)\|` + regexp.QuoteMeta(field) + `\s*=\s*[^|}]*`)
	replacement := "|" + field + "=" + value

	if existing := fieldPattern.FindStringIndex(body); existing != nil {
		old := body[existing[0]:existing[1]]
		if strings.TrimSpace(old) == strings.TrimSpace(replacement) {
			return wikitext, false, nil
		}
		body = body[:existing[0]] + replacement + body[existing[1]:]
	} else {
		body = strings.TrimRight(body, " \t")
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += replacement + "\n"
	}

	updated := wikitext[:loc[0]] + start + body + end + wikitext[loc[1]:]
	return updated, true, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
