// Package github implements the chat-kernel Adapter contract for
// GitHub pull request conversations: ingress is a webhook verified with
// an HMAC-SHA256 signature, and a pull request plus its review-comment
// thread are modeled as the normalized "thread."
package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	ghclient "github.com/google/go-github/v68/github"

	"github.com/duskrail/switchboard/internal/adapter"
	"github.com/duskrail/switchboard/internal/chat"
	"github.com/duskrail/switchboard/internal/emoji"
	"github.com/duskrail/switchboard/internal/logging"
	"github.com/duskrail/switchboard/internal/switcherr"
)

const rateLimitWarningThreshold = 100

// restClient abstracts the go-github calls used here, for test mocks.
type restClient interface {
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*ghclient.IssueComment, *ghclient.Response, error)
	EditIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) (*ghclient.IssueComment, *ghclient.Response, error)
	DeleteIssueComment(ctx context.Context, owner, repo string, commentID int64) (*ghclient.Response, error)
	EditReviewComment(ctx context.Context, owner, repo string, commentID int64, body string) (*ghclient.PullRequestComment, *ghclient.Response, error)
	DeleteReviewComment(ctx context.Context, owner, repo string, commentID int64) (*ghclient.Response, error)
	CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) (*ghclient.Reaction, *ghclient.Response, error)
	CreateIssueReaction(ctx context.Context, owner, repo string, number int, content string) (*ghclient.Reaction, *ghclient.Response, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int, opts *ghclient.IssueListCommentsOptions) ([]*ghclient.IssueComment, *ghclient.Response, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*ghclient.PullRequest, *ghclient.Response, error)
}

type realClient struct{ gh *ghclient.Client }

func (r *realClient) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*ghclient.IssueComment, *ghclient.Response, error) {
	return r.gh.Issues.CreateComment(ctx, owner, repo, number, &ghclient.IssueComment{Body: &body})
}
func (r *realClient) EditIssueComment(ctx context.Context, owner, repo string, commentID int64, body string) (*ghclient.IssueComment, *ghclient.Response, error) {
	return r.gh.Issues.EditComment(ctx, owner, repo, commentID, &ghclient.IssueComment{Body: &body})
}
func (r *realClient) DeleteIssueComment(ctx context.Context, owner, repo string, commentID int64) (*ghclient.Response, error) {
	return r.gh.Issues.DeleteComment(ctx, owner, repo, commentID)
}
func (r *realClient) EditReviewComment(ctx context.Context, owner, repo string, commentID int64, body string) (*ghclient.PullRequestComment, *ghclient.Response, error) {
	return r.gh.PullRequests.EditComment(ctx, owner, repo, commentID, &ghclient.PullRequestComment{Body: &body})
}
func (r *realClient) DeleteReviewComment(ctx context.Context, owner, repo string, commentID int64) (*ghclient.Response, error) {
	return r.gh.PullRequests.DeleteComment(ctx, owner, repo, commentID)
}
func (r *realClient) CreateIssueCommentReaction(ctx context.Context, owner, repo string, commentID int64, content string) (*ghclient.Reaction, *ghclient.Response, error) {
	return r.gh.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
}
func (r *realClient) CreateIssueReaction(ctx context.Context, owner, repo string, number int, content string) (*ghclient.Reaction, *ghclient.Response, error) {
	return r.gh.Reactions.CreateIssueReaction(ctx, owner, repo, number, content)
}
func (r *realClient) ListIssueComments(ctx context.Context, owner, repo string, number int, opts *ghclient.IssueListCommentsOptions) ([]*ghclient.IssueComment, *ghclient.Response, error) {
	return r.gh.Issues.ListComments(ctx, owner, repo, number, opts)
}
func (r *realClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*ghclient.PullRequest, *ghclient.Response, error) {
	return r.gh.PullRequests.Get(ctx, owner, repo, number)
}

// Adapter implements adapter.Adapter for GitHub pull request threads.
type Adapter struct {
	cl            restClient
	webhookSecret string
	userName      string
	botUserID     string
	mu            sync.Mutex
	kernel        adapter.Kernel
	logger        logging.Logger
}

// Options configures a new Adapter.
type Options struct {
	Token         string
	BaseURL       string // non-empty for GitHub Enterprise
	WebhookSecret string
	UserName      string
	BotUserID     string
	Client        restClient // injected in tests
	Logger        logging.Logger
}

// New creates a GitHub Adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Client == nil && opts.Token == "" {
		return nil, fmt.Errorf("github: token is required")
	}
	if opts.WebhookSecret == "" {
		return nil, fmt.Errorf("github: webhook secret is required to verify deliveries")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Noop()
	}
	cl := opts.Client
	if cl == nil {
		gh := ghclient.NewClient(nil).WithAuthToken(opts.Token)
		if opts.BaseURL != "" {
			var err error
			gh, err = gh.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("github: configure enterprise url: %w", err)
			}
		}
		cl = &realClient{gh: gh}
	}
	return &Adapter{cl: cl, webhookSecret: opts.WebhookSecret, userName: opts.UserName, botUserID: opts.BotUserID, logger: logger}, nil
}

func (a *Adapter) Name() string      { return "github" }
func (a *Adapter) UserName() string  { return a.userName }
func (a *Adapter) BotUserID() string { a.mu.Lock(); defer a.mu.Unlock(); return a.botUserID }

func (a *Adapter) Initialize(k adapter.Kernel) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kernel = k
}

// HandleWebhook verifies X-Hub-Signature-256, parses the delivery, and
// dispatches issue_comment / pull_request_review_comment events that
// land on a pull request to the kernel.
func (a *Adapter) HandleWebhook(ctx context.Context, req adapter.WebhookRequest, opts adapter.RequestOptions) (adapter.WebhookResponse, error) {
	if err := verifySignature(a.webhookSecret, req.Headers.Get("X-Hub-Signature-256"), req.Body); err != nil {
		a.logger.Warn("github: signature verification failed", "error", err)
		return adapter.WebhookResponse{Status: 401, Body: []byte("unauthorized")}, nil
	}

	eventType := req.Headers.Get("X-GitHub-Event")
	a.mu.Lock()
	k := a.kernel
	a.mu.Unlock()

	switch eventType {
	case "issue_comment":
		var payload struct {
			Action string `json:"action"`
			Issue  struct {
				Number      int             `json:"number"`
				PullRequest json.RawMessage `json:"pull_request"`
			} `json:"issue"`
			Comment struct {
				ID   int64  `json:"id"`
				Body string `json:"body"`
				User struct {
					Login string `json:"login"`
				} `json:"user"`
			} `json:"comment"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return adapter.WebhookResponse{Status: 400}, nil
		}
		if payload.Action != "created" || payload.Issue.PullRequest == nil {
			return adapter.WebhookResponse{Status: 200}, nil
		}
		threadID, err := a.EncodeThreadID(threadLocator{Repo: payload.Repository.FullName, PRNumber: payload.Issue.Number})
		if err != nil {
			return adapter.WebhookResponse{Status: 400}, nil
		}
		msg := chat.Message{
			ID:       strconv.FormatInt(payload.Comment.ID, 10),
			ThreadID: threadID,
			Text:     payload.Comment.Body,
			Author: chat.Author{
				UserID:   payload.Comment.User.Login,
				UserName: payload.Comment.User.Login,
				IsMe:     payload.Comment.User.Login == a.BotUserID(),
			},
		}
		if k != nil {
			if err := k.ProcessMessage(ctx, a, msg, opts); err != nil {
				a.logger.Error("github: process message", "error", err)
			}
		}
	case "pull_request_review_comment":
		var payload struct {
			Action      string `json:"action"`
			PullRequest struct {
				Number int `json:"number"`
			} `json:"pull_request"`
			Comment struct {
				ID   int64  `json:"id"`
				Body string `json:"body"`
				User struct {
					Login string `json:"login"`
				} `json:"user"`
			} `json:"comment"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return adapter.WebhookResponse{Status: 400}, nil
		}
		if payload.Action != "created" {
			return adapter.WebhookResponse{Status: 200}, nil
		}
		threadID, err := a.EncodeThreadID(threadLocator{Repo: payload.Repository.FullName, PRNumber: payload.PullRequest.Number, ReviewCommentID: payload.Comment.ID})
		if err != nil {
			return adapter.WebhookResponse{Status: 400}, nil
		}
		msg := chat.Message{
			ID:       strconv.FormatInt(payload.Comment.ID, 10),
			ThreadID: threadID,
			Text:     payload.Comment.Body,
			Author: chat.Author{
				UserID:   payload.Comment.User.Login,
				UserName: payload.Comment.User.Login,
				IsMe:     payload.Comment.User.Login == a.BotUserID(),
			},
		}
		if k != nil {
			if err := k.ProcessMessage(ctx, a, msg, opts); err != nil {
				a.logger.Error("github: process review comment", "error", err)
			}
		}
	default:
		return adapter.WebhookResponse{Status: 200}, nil
	}
	return adapter.WebhookResponse{Status: 200}, nil
}

// threadLocator is the GitHub-specific platform value: a repo, a pull
// request number, and, when the thread is a review-comment discussion
// rather than the PR's top-level conversation, the root comment ID.
type threadLocator struct {
	Repo            string
	PRNumber        int
	ReviewCommentID int64 // 0 for the PR's main conversation
}

func (a *Adapter) EncodeThreadID(platformData any) (chat.ThreadID, error) {
	loc, ok := platformData.(threadLocator)
	if !ok {
		return "", switcherr.NewValidationError(a.Name(), "encodeThreadID expects a github threadLocator")
	}
	id := fmt.Sprintf("github:%s:%d", loc.Repo, loc.PRNumber)
	if loc.ReviewCommentID != 0 {
		id += fmt.Sprintf(":rc:%d", loc.ReviewCommentID)
	}
	return chat.ThreadID(id), nil
}

func (a *Adapter) DecodeThreadID(s chat.ThreadID) (any, error) {
	const prefix = "github:"
	str := string(s)
	if !strings.HasPrefix(str, prefix) {
		return nil, switcherr.NewValidationError(a.Name(), "malformed github thread id: "+str)
	}
	rest := strings.TrimPrefix(str, prefix)
	parts := strings.Split(rest, ":")
	// parts is ["owner/repo", "prNumber"] or ["owner/repo", "prNumber", "rc", "commentId"].
	if len(parts) != 2 && len(parts) != 4 {
		return nil, switcherr.NewValidationError(a.Name(), "malformed github thread id: "+str)
	}
	number, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, switcherr.NewValidationError(a.Name(), "malformed github thread id: "+str)
	}
	loc := threadLocator{Repo: parts[0], PRNumber: number}
	if len(parts) == 4 {
		if parts[2] != "rc" {
			return nil, switcherr.NewValidationError(a.Name(), "malformed github thread id: "+str)
		}
		commentID, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, switcherr.NewValidationError(a.Name(), "malformed github thread id: "+str)
		}
		loc.ReviewCommentID = commentID
	}
	return loc, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: invalid repo %q, want owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

func (a *Adapter) PostMessage(ctx context.Context, threadID chat.ThreadID, postable chat.Postable) (chat.SentMessage, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.SentMessage{}, err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return chat.SentMessage{}, switcherr.NewValidationError(a.Name(), err.Error())
	}
	body := postableText(postable)

	if loc.ReviewCommentID != 0 {
		// No native "reply in review thread" create here; review-comment
		// replies are posted via the issue comment endpoint referencing the
		// PR conversation, matching GitHub's own UI behavior for replies
		// once a review thread is resolved into the timeline.
		comment, resp, err := a.cl.CreateIssueComment(ctx, owner, repo, loc.PRNumber, body)
		if err != nil {
			return chat.SentMessage{}, translateErr(a.Name(), err)
		}
		a.checkRate(resp)
		return chat.SentMessage{ID: strconv.FormatInt(comment.GetID(), 10), ThreadID: threadID, Raw: comment}, nil
	}

	comment, resp, err := a.cl.CreateIssueComment(ctx, owner, repo, loc.PRNumber, body)
	if err != nil {
		return chat.SentMessage{}, translateErr(a.Name(), err)
	}
	a.checkRate(resp)
	return chat.SentMessage{ID: strconv.FormatInt(comment.GetID(), 10), ThreadID: threadID, Raw: comment}, nil
}

func (a *Adapter) EditMessage(ctx context.Context, threadID chat.ThreadID, messageID string, postable chat.Postable) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return switcherr.NewValidationError(a.Name(), err.Error())
	}
	commentID, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return switcherr.NewValidationError(a.Name(), "messageID must be numeric")
	}
	body := postableText(postable)
	if loc.ReviewCommentID != 0 {
		_, resp, err := a.cl.EditReviewComment(ctx, owner, repo, commentID, body)
		if err != nil {
			return translateErr(a.Name(), err)
		}
		a.checkRate(resp)
		return nil
	}
	_, resp, err := a.cl.EditIssueComment(ctx, owner, repo, commentID, body)
	if err != nil {
		return translateErr(a.Name(), err)
	}
	a.checkRate(resp)
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, threadID chat.ThreadID, messageID string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return switcherr.NewValidationError(a.Name(), err.Error())
	}
	commentID, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return switcherr.NewValidationError(a.Name(), "messageID must be numeric")
	}
	if loc.ReviewCommentID != 0 {
		_, err := a.cl.DeleteReviewComment(ctx, owner, repo, commentID)
		return translateErr(a.Name(), err)
	}
	_, err = a.cl.DeleteIssueComment(ctx, owner, repo, commentID)
	return translateErr(a.Name(), err)
}

func (a *Adapter) AddReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return switcherr.NewValidationError(a.Name(), err.Error())
	}
	content := toGitHubReactionContent(emojiName)
	commentID, convErr := strconv.ParseInt(messageID, 10, 64)
	if convErr == nil && commentID != 0 {
		_, resp, err := a.cl.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
		if err != nil {
			return translateErr(a.Name(), err)
		}
		a.checkRate(resp)
		return nil
	}
	_, resp, err := a.cl.CreateIssueReaction(ctx, owner, repo, loc.PRNumber, content)
	if err != nil {
		return translateErr(a.Name(), err)
	}
	a.checkRate(resp)
	return nil
}

// RemoveReaction is not implemented: go-github exposes DeleteCommentReaction
// keyed by a reaction ID this adapter does not track, not by emoji name.
func (a *Adapter) RemoveReaction(ctx context.Context, threadID chat.ThreadID, messageID, emojiName string) error {
	return switcherr.NewNotImplementedError(a.Name(), "remove reaction")
}

// StartTyping returns a NotImplementedError: GitHub has no typing-indicator concept.
func (a *Adapter) StartTyping(ctx context.Context, threadID chat.ThreadID) error {
	return switcherr.NewNotImplementedError(a.Name(), "typing indicator")
}

// NormalizeEmoji falls back to the generic registry lookup: this
// adapter has no reaction-ingress webhook, so it never needs to map a
// platform-native reaction representation.
func (a *Adapter) NormalizeEmoji(reg *emoji.Registry, raw string) *chat.Emoji {
	return reg.Normalize(raw)
}

func (a *Adapter) FetchMessages(ctx context.Context, threadID chat.ThreadID, opts chat.FetchOptions) (chat.FetchResult, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.FetchResult{}, err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return chat.FetchResult{}, switcherr.NewValidationError(a.Name(), err.Error())
	}

	page := 1
	if opts.Cursor != "" {
		if p, err := strconv.Atoi(opts.Cursor); err == nil {
			page = p
		}
	}
	perPage := opts.Limit
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}

	comments, resp, err := a.cl.ListIssueComments(ctx, owner, repo, loc.PRNumber, &ghclient.IssueListCommentsOptions{
		ListOptions: ghclient.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return chat.FetchResult{}, translateErr(a.Name(), err)
	}
	a.checkRate(resp)

	messages := make([]chat.Message, len(comments))
	for i, c := range comments {
		messages[i] = chat.Message{
			ID:       strconv.FormatInt(c.GetID(), 10),
			ThreadID: threadID,
			Text:     c.GetBody(),
			Raw:      c,
			Author:   chat.Author{UserID: c.GetUser().GetLogin(), UserName: c.GetUser().GetLogin()},
			Metadata: chat.Metadata{DateSent: c.GetCreatedAt().Time},
		}
	}
	var nextCursor string
	if resp.NextPage != 0 {
		nextCursor = strconv.Itoa(resp.NextPage)
	}
	return chat.FetchResult{Messages: messages, NextCursor: nextCursor}, nil
}

func (a *Adapter) FetchThread(ctx context.Context, threadID chat.ThreadID) (chat.ThreadInfo, error) {
	locator, err := a.DecodeThreadID(threadID)
	if err != nil {
		return chat.ThreadInfo{}, err
	}
	loc := locator.(threadLocator)
	owner, repo, err := splitRepo(loc.Repo)
	if err != nil {
		return chat.ThreadInfo{}, switcherr.NewValidationError(a.Name(), err.Error())
	}
	pr, resp, err := a.cl.GetPullRequest(ctx, owner, repo, loc.PRNumber)
	if err != nil {
		return chat.ThreadInfo{}, translateErr(a.Name(), err)
	}
	a.checkRate(resp)
	return chat.ThreadInfo{ChannelID: loc.Repo, DisplayName: pr.GetTitle()}, nil
}

func (a *Adapter) ParseMessage(raw any) (chat.Message, error) {
	c, ok := raw.(*ghclient.IssueComment)
	if !ok {
		return chat.Message{}, switcherr.NewValidationError(a.Name(), "raw payload is not a *github.IssueComment")
	}
	return chat.Message{ID: strconv.FormatInt(c.GetID(), 10), Text: c.GetBody(),
		Author: chat.Author{UserID: c.GetUser().GetLogin(), UserName: c.GetUser().GetLogin()}}, nil
}

// RenderFormatted renders a document tree to GitHub-flavored Markdown.
func (a *Adapter) RenderFormatted(content *chat.FormattedContent) (string, error) {
	var b strings.Builder
	renderNodes(&b, content.Nodes)
	return b.String(), nil
}

func renderNodes(b *strings.Builder, nodes []chat.Node) {
	for _, n := range nodes {
		switch n.Kind {
		case "bold":
			b.WriteString("**")
			b.WriteString(n.Text)
			b.WriteString("**")
		case "code":
			b.WriteString("`")
			b.WriteString(n.Text)
			b.WriteString("`")
		default:
			b.WriteString(n.Text)
		}
		renderNodes(b, n.Children)
	}
}

func (a *Adapter) OnThreadSubscribe(ctx context.Context, threadID chat.ThreadID) error { return nil }

func (a *Adapter) OpenDM(ctx context.Context, userID string) (chat.ThreadID, error) {
	return "", switcherr.NewNotImplementedError(a.Name(), "direct messages")
}

func (a *Adapter) IsDM(ctx context.Context, threadID chat.ThreadID) (bool, error) { return false, nil }

func (a *Adapter) checkRate(resp *ghclient.Response) {
	if resp == nil {
		return
	}
	if remaining := resp.Rate.Remaining; remaining > 0 && remaining < rateLimitWarningThreshold {
		a.logger.Warn("github rate limit low", "remaining", remaining, "limit", resp.Rate.Limit)
	}
}

func postableText(p chat.Postable) string {
	if p.Markdown != "" {
		return p.Markdown
	}
	if p.Text != "" {
		return p.Text
	}
	return p.FallbackText
}

// toGitHubReactionContent maps a normalized emoji name to one of
// GitHub's fixed reaction content strings, falling back to "eyes" for
// anything it doesn't recognize — GitHub rejects arbitrary emoji here.
func toGitHubReactionContent(name string) string {
	switch strings.ToLower(name) {
	case "thumbsup", "+1":
		return "+1"
	case "thumbsdown", "-1":
		return "-1"
	case "laugh", "smile":
		return "laugh"
	case "hooray", "tada":
		return "hooray"
	case "confused":
		return "confused"
	case "heart":
		return "heart"
	case "rocket":
		return "rocket"
	default:
		return "eyes"
	}
}

func verifySignature(secret, header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("github: missing signature header")
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return fmt.Errorf("github: unsupported signature algorithm")
	}
	expectedHex := strings.TrimPrefix(header, prefix)
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return fmt.Errorf("github: malformed signature: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("github: signature mismatch")
	}
	return nil
}

func translateErr(adapterName string, err error) error {
	if err == nil {
		return nil
	}
	var ghErr *ghclient.ErrorResponse
	hasErr := errors.As(err, &ghErr)
	if !hasErr || ghErr.Response == nil {
		return switcherr.NewNetworkError(adapterName, err)
	}
	switch ghErr.Response.StatusCode {
	case http.StatusUnauthorized:
		return switcherr.NewAuthenticationError(adapterName, err)
	case http.StatusForbidden:
		return switcherr.NewPermissionError(adapterName, err)
	case http.StatusNotFound:
		return switcherr.NewResourceNotFoundError(adapterName, "issue, PR, or comment")
	case http.StatusTooManyRequests:
		return switcherr.NewRateLimitError(adapterName, nil, err)
	default:
		return switcherr.NewAdapterError(adapterName, "github API error", err)
	}
}
