// Package client — общий HTTP-фасад для сгенерированных клиентов
// админки и фасетов: типизированные list/get/post/put/delete поверх
// одного транспорта, с выбором JSON или бинарного формата ответов.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"korob/internal/apperr"
	"korob/internal/wire"
)

// Format — формат ответов list/get. Действия всегда ходят по JSON.
type Format int

const (
	Json Format = iota
	Binary
)

type Client struct {
	BaseURL string
	Tokens  TokenSource
	Format  Format
	HTTP    *http.Client
}

func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		Format:  Json,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, binary bool) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "сборка запроса", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if binary {
		req.Header.Set("Accept", wire.MimeBinary)
	}
	tok, err := c.Tokens.Token()
	if err != nil {
		return nil, err
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "http запрос", err)
	}
	return resp, nil
}

// readOK закрывает тело и превращает не-2xx ответы в ServerError.
func readOK(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "чтение ответа", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeServerError(resp.StatusCode, raw)
	}
	return raw, nil
}

func isBinaryResponse(resp *http.Response) bool {
	return resp.Header.Get("Content-Type") == wire.MimeBinary
}

// mapToStruct — промежуточный JSON-проход из нейтральной карты в T.
func mapToStruct[T any](m map[string]any) (*T, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "кодирование записи", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "декодирование записи", err)
	}
	return &out, nil
}

// List запрашивает коллекцию; формат ответа определяет Content-Type.
func List[T any](ctx context.Context, c *Client, path string) ([]T, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, c.Format == Binary)
	if err != nil {
		return nil, false, err
	}
	raw, err := readOK(resp)
	if err != nil {
		return nil, false, err
	}
	if isBinaryResponse(resp) {
		var proto T
		sch := wire.SchemaFor(&proto)
		maps, hasMore, err := sch.DecodeList(raw)
		if err != nil {
			return nil, false, err
		}
		items := make([]T, 0, len(maps))
		for _, m := range maps {
			it, err := mapToStruct[T](m)
			if err != nil {
				return nil, false, err
			}
			items = append(items, *it)
		}
		return items, hasMore, nil
	}
	var out struct {
		Items   []T  `json:"items"`
		HasMore bool `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "разбор списка", err)
	}
	return out.Items, out.HasMore, nil
}

// Get запрашивает одну запись.
func Get[T any](ctx context.Context, c *Client, path string) (*T, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, c.Format == Binary)
	if err != nil {
		return nil, err
	}
	raw, err := readOK(resp)
	if err != nil {
		return nil, err
	}
	if isBinaryResponse(resp) {
		var proto T
		sch := wire.SchemaFor(&proto)
		m, err := sch.Decode(raw)
		if err != nil {
			return nil, err
		}
		return mapToStruct[T](m)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "разбор записи", err)
	}
	return &out, nil
}

func send[Resp any](ctx context.Context, c *Client, method, path string, body []byte) (*Resp, error) {
	resp, err := c.do(ctx, method, path, body, false)
	if err != nil {
		return nil, err
	}
	raw, err := readOK(resp)
	if err != nil {
		return nil, err
	}
	var out Resp
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "разбор ответа", err)
		}
	}
	return &out, nil
}

func marshalBody(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "кодирование тела", err)
	}
	return raw, nil
}

// Post отправляет тело и разбирает ответ.
func Post[Req, Resp any](ctx context.Context, c *Client, path string, body *Req) (*Resp, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return send[Resp](ctx, c, http.MethodPost, path, raw)
}

// PostEmpty — POST без тела.
func PostEmpty[Resp any](ctx context.Context, c *Client, path string) (*Resp, error) {
	return send[Resp](ctx, c, http.MethodPost, path, nil)
}

// Put отправляет тело и разбирает ответ.
func Put[Req, Resp any](ctx context.Context, c *Client, path string, body *Req) (*Resp, error) {
	raw, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return send[Resp](ctx, c, http.MethodPut, path, raw)
}

// PutEmpty — PUT без тела.
func PutEmpty[Resp any](ctx context.Context, c *Client, path string) (*Resp, error) {
	return send[Resp](ctx, c, http.MethodPut, path, nil)
}

// Patch отправляет merge-patch и разбирает обновлённую запись.
func Patch[Resp any](ctx context.Context, c *Client, path string, patch []byte) (*Resp, error) {
	return send[Resp](ctx, c, http.MethodPatch, path, patch)
}

// Delete удаляет запись; тело ответа игнорируется.
func Delete(ctx context.Context, c *Client, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, nil, false)
	if err != nil {
		return err
	}
	_, err = readOK(resp)
	return err
}
