// Package activity builds the ActivityStreams documents sent to recipients
// and the identity document describing an owner.
package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"fedifeed/relay/internal/models"
)

const (
	contextURI   = "https://www.w3.org/ns/activitystreams"
	securityURI  = "https://w3id.org/security/v1"
	publicTarget = "https://www.w3.org/ns/activitystreams#Public"

	// ContentType is the media type of every document built here.
	ContentType = "application/activity+json"
)

// Document is a serialized activity ready to transmit.
type Document []byte

// Builder renders documents rooted at a public base URL.
type Builder struct {
	base *url.URL
	now  func() time.Time
}

// NewBuilder parses baseURL. A bare host gets http for localhost and
// https otherwise.
func NewBuilder(baseURL string) (*Builder, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.Contains(raw, "://") {
		scheme := "https"
		if strings.HasPrefix(raw, "localhost") || strings.HasPrefix(raw, "127.0.0.1") {
			scheme = "http"
		}
		raw = scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", baseURL)
	}
	return &Builder{base: u, now: time.Now}, nil
}

// ActorURL is the identity URL of owner.
func (b *Builder) ActorURL(username string) string {
	return b.base.JoinPath("users", username).String()
}

type publicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type person struct {
	Context           []string   `json:"@context"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	PreferredUsername string     `json:"preferredUsername"`
	Name              string     `json:"name"`
	Summary           string     `json:"summary,omitempty"`
	Inbox             string     `json:"inbox"`
	Outbox            string     `json:"outbox"`
	Followers         string     `json:"followers"`
	URL               string     `json:"url"`
	PublicKey         *publicKey `json:"publicKey,omitempty"`
}

type attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	URL       string `json:"url"`
}

type note struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	AttributedTo string       `json:"attributedTo"`
	Name         string       `json:"name,omitempty"`
	Content      string       `json:"content"`
	URL          string       `json:"url,omitempty"`
	Published    string       `json:"published"`
	To           []string     `json:"to"`
	Cc           []string     `json:"cc"`
	Attachment   []attachment `json:"attachment,omitempty"`
}

type create struct {
	Context   string   `json:"@context"`
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Actor     string   `json:"actor"`
	Published string   `json:"published"`
	To        []string `json:"to"`
	Cc        []string `json:"cc"`
	Object    note     `json:"object"`
}

// BuildIdentityDocument renders owner as a Person actor.
func (b *Builder) BuildIdentityDocument(owner models.Owner) (Document, error) {
	if owner.Username == "" {
		return nil, errors.New("owner has no username")
	}
	actor := b.ActorURL(owner.Username)
	p := person{
		Context:           []string{contextURI, securityURI},
		ID:                actor,
		Type:              "Person",
		PreferredUsername: owner.Username,
		Name:              owner.DisplayName,
		Summary:           owner.Summary.String,
		Inbox:             actor + "/inbox",
		Outbox:            actor + "/outbox",
		Followers:         actor + "/followers",
		URL:               actor,
	}
	if owner.PublicKeyPEM.Valid && owner.PublicKeyPEM.String != "" {
		p.PublicKey = &publicKey{ID: actor + "#main-key", Owner: actor, PublicKeyPem: owner.PublicKeyPEM.String}
	}
	return json.Marshal(p)
}

// BuildActivityDocument renders post as a Create activity wrapping a Note.
func (b *Builder) BuildActivityDocument(post models.Post, owner models.Owner) (Document, error) {
	if owner.Username == "" {
		return nil, errors.New("owner has no username")
	}
	if post.ID == "" {
		return nil, errors.New("post has no id")
	}

	actor := b.ActorURL(owner.Username)
	objectID := actor + "/posts/" + string(post.ID)
	published := b.now().UTC().Format(time.RFC3339)
	to := []string{publicTarget}
	cc := []string{actor + "/followers"}

	n := note{
		ID:           objectID,
		Type:         "Note",
		AttributedTo: actor,
		Name:         post.Title,
		Content:      noteContent(post),
		URL:          post.Link.String,
		Published:    published,
		To:           to,
		Cc:           cc,
	}
	if post.ImageURL.Valid && post.ImageURL.String != "" {
		n.Attachment = []attachment{{Type: "Image", URL: post.ImageURL.String}}
	}

	return json.Marshal(create{
		Context:   contextURI,
		ID:        objectID + "/activity",
		Type:      "Create",
		Actor:     actor,
		Published: published,
		To:        to,
		Cc:        cc,
		Object:    n,
	})
}

// noteContent keeps the note short: the title and a link back to the source.
func noteContent(post models.Post) string {
	var sb strings.Builder
	sb.WriteString("<p>")
	sb.WriteString(html.EscapeString(post.Title))
	sb.WriteString("</p>")
	if post.Link.Valid && post.Link.String != "" {
		link := html.EscapeString(post.Link.String)
		fmt.Fprintf(&sb, `<p><a href="%s">%s</a></p>`, link, link)
	}
	return sb.String()
}
