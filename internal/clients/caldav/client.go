package caldav

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

// Client publishes calendar objects into one CalDAV collection.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	client       *caldav.Client
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// IsConfigured returns true if the client has a server and credentials
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.username != "" && c.password != ""
}

// SetCalendarPath sets the collection objects are written to
func (c *Client) SetCalendarPath(path string) {
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	c.calendarPath = path
}

func (c *Client) CalendarPath() string { return c.calendarPath }

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// Calendars lists the collections in the user's calendar home.
func (c *Client) Calendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
		})
	}
	return result, nil
}

// UseCalendar selects the collection whose display name or last path
// segment is name.
func (c *Client) UseCalendar(ctx context.Context, name string) error {
	cals, err := c.Calendars(ctx)
	if err != nil {
		return err
	}
	if cal, ok := findCalendar(cals, name); ok {
		c.SetCalendarPath(cal.Path)
		return nil
	}
	return fmt.Errorf("calendar %q not found on server", name)
}

func findCalendar(cals []Calendar, name string) (Calendar, bool) {
	for _, cal := range cals {
		segment := strings.TrimSuffix(cal.Path, "/")
		if i := strings.LastIndex(segment, "/"); i >= 0 {
			segment = segment[i+1:]
		}
		if strings.EqualFold(cal.DisplayName, name) || segment == name {
			return cal, true
		}
	}
	return Calendar{}, false
}

// ObjectPath returns where the object with uid lives.
func (c *Client) ObjectPath(uid string) string {
	return c.calendarPath + uid + ".ics"
}

// Put writes cal to path and returns the new ETag.
func (c *Client) Put(ctx context.Context, path string, cal *ical.Calendar) (string, error) {
	client, err := c.connect()
	if err != nil {
		return "", err
	}
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}

	obj, err := client.PutCalendarObject(ctx, path, cal)
	if err != nil {
		return "", fmt.Errorf("put calendar object: %w", err)
	}
	return obj.ETag, nil
}

// Remove deletes the object at path.
func (c *Client) Remove(ctx context.Context, path string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}

	if err := client.RemoveAll(ctx, path); err != nil {
		return fmt.Errorf("delete calendar object: %w", err)
	}
	return nil
}
