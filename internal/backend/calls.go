package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pitabwire/portdesk/model"
)

// List fetches a collection and normalizes it. Errors are carried in the
// result rather than returned.
func (c *Client) List(ctx context.Context, sess model.Session, ep Endpoint, itemsKey string) model.ListResult {
	method, path, err := c.Resolve(ep, nil, http.MethodGet)
	if err != nil {
		return model.ListResult{Err: model.NewRequestFailedError(0, "").WithCause(err)}
	}
	resp, err := c.Do(ctx, sess, method, path, ep.label(), nil)
	if err != nil {
		return model.ListResult{Err: err}
	}
	return NormalizeList(resp.Status, resp.Body, itemsKey)
}

// Send performs a create, update or delete call. Success is a 2xx response
// without an explicit success:false; anything else is a request-failed error
// carrying the best available message.
func (c *Client) Send(ctx context.Context, sess model.Session, ep Endpoint, params map[string]string, defaultMethod string, body any) (*Response, error) {
	method, path, err := c.Resolve(ep, params, defaultMethod)
	if err != nil {
		return nil, model.NewRequestFailedError(0, "").WithCause(err)
	}
	resp, err := c.Do(ctx, sess, method, path, ep.label(), body)
	if err != nil {
		return nil, err
	}
	if !bodySucceeded(resp.Status, resp.Body) {
		return resp, model.NewRequestFailedError(resp.Status, ExtractMessage(resp.Body))
	}
	return resp, nil
}

// Document is a binary resource such as a rendered PDF.
type Document struct {
	ContentType string
	Data        []byte
}

// FetchDocument downloads a binary document with the same auth and failure
// handling as JSON calls.
func (c *Client) FetchDocument(ctx context.Context, sess model.Session, ep Endpoint, params map[string]string) (*Document, error) {
	method, path, err := c.Resolve(ep, params, http.MethodGet)
	if err != nil {
		return nil, model.NewRequestFailedError(0, "").WithCause(err)
	}
	resp, err := c.Do(ctx, sess, method, path, ep.label(), nil)
	if err != nil {
		return nil, err
	}
	if !is2xx(resp.Status) {
		return nil, model.NewRequestFailedError(resp.Status, ExtractMessage(resp.Body))
	}
	if strings.HasPrefix(resp.ContentType, "application/json") && !bodySucceeded(resp.Status, resp.Body) {
		return nil, model.NewRequestFailedError(resp.Status, ExtractMessage(resp.Body))
	}
	return &Document{ContentType: resp.ContentType, Data: resp.Body}, nil
}

// FormSubmitter sends a form document to its create or update endpoint.
type FormSubmitter struct {
	client  *Client
	session model.Session
	create  Endpoint
	update  Endpoint
}

// NewFormSubmitter binds create and update endpoints to a session.
func (c *Client) NewFormSubmitter(sess model.Session, create, update Endpoint) *FormSubmitter {
	return &FormSubmitter{client: c, session: sess, create: create, update: update}
}

// Submit POSTs to the create endpoint when entityID is empty and PUTs to the
// update endpoint with {id} bound otherwise. Documents missing fields the
// backend's OpenAPI schema requires are rejected without a network call.
func (s *FormSubmitter) Submit(ctx context.Context, entityID string, doc map[string]any) error {
	ep, method, params := s.create, http.MethodPost, map[string]string(nil)
	if entityID != "" {
		ep, method, params = s.update, http.MethodPut, map[string]string{"id": entityID}
	}
	if ep.IsZero() {
		return model.NewRequestFailedError(0, "").WithCause(errors.New("backend: no submit endpoint configured"))
	}
	if ep.OperationID != "" && s.client.index != nil {
		if fieldErrs := s.client.index.ValidateRequest(ep.OperationID, doc); len(fieldErrs) > 0 {
			return model.NewValidationError(fieldErrs)
		}
	}
	_, err := s.client.Send(ctx, s.session, ep, params, method, doc)
	return err
}

// EntityDeleter sends DELETE for one collection's entities.
type EntityDeleter struct {
	client   *Client
	session  model.Session
	endpoint Endpoint
}

// NewEntityDeleter binds a delete endpoint to a session.
func (c *Client) NewEntityDeleter(sess model.Session, ep Endpoint) *EntityDeleter {
	return &EntityDeleter{client: c, session: sess, endpoint: ep}
}

// Delete removes the entity with the given id.
func (d *EntityDeleter) Delete(ctx context.Context, id string) error {
	_, err := d.client.Send(ctx, d.session, d.endpoint, map[string]string{"id": id}, http.MethodDelete, nil)
	return err
}
