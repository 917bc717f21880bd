package facet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"korob/internal/apperr"
	"korob/internal/client"
)

// Client — типизированный клиент фасета поверх общего транспорта.
type Client struct {
	Def *Definition
	RT  *client.Client
}

func NewClient(def *Definition, rt *client.Client) *Client {
	return &Client{Def: def, RT: rt}
}

func (fc *Client) resource(name string) (*Resource, error) {
	for i := range fc.Def.Resources {
		if fc.Def.Resources[i].Name == name {
			return &fc.Def.Resources[i], nil
		}
	}
	return nil, apperr.Newf(apperr.Internal, "фасет %s: неизвестная проекция %q", fc.Def.Name, name)
}

func (fc *Client) action(name string) (*Action, error) {
	for i := range fc.Def.Actions {
		if fc.Def.Actions[i].Name == name {
			return &fc.Def.Actions[i], nil
		}
	}
	return nil, apperr.Newf(apperr.Internal, "фасет %s: неизвестное действие %q", fc.Def.Name, name)
}

// actionURL подставляет аргументы в {name}-позиции в порядке их
// появления в шаблоне, а не в порядке сигнатуры вызова.
func (fc *Client) actionURL(act *Action, pathArgs []string) (string, error) {
	names := act.placeholders()
	if len(pathArgs) != len(names) {
		return "", apperr.Newf(apperr.Internal,
			"действие %s: ожидается %d path-аргументов, передано %d", act.Name, len(names), len(pathArgs))
	}
	path := act.Path
	for i, n := range names {
		path = strings.Replace(path, "{"+n+"}", url.PathEscape(pathArgs[i]), 1)
	}
	return fc.Def.BasePath() + path, nil
}

// ListOf запрашивает коллекцию проекции.
func ListOf[T any](ctx context.Context, fc *Client, resource string) ([]T, bool, error) {
	res, err := fc.resource(resource)
	if err != nil {
		return nil, false, err
	}
	return client.List[T](ctx, fc.RT, fc.Def.BasePath()+"/"+res.Path)
}

// GetOf запрашивает одну запись проекции по ключу.
func GetOf[T any](ctx context.Context, fc *Client, resource, id string) (*T, error) {
	res, err := fc.resource(resource)
	if err != nil {
		return nil, err
	}
	return client.Get[T](ctx, fc.RT, fmt.Sprintf("%s/%s/%s", fc.Def.BasePath(), res.Path, url.PathEscape(id)))
}

// Call выполняет действие. DELETE отбрасывает тело и возвращает пустой
// результат; остальные методы следуют HasBody объявления.
func Call[Req, Resp any](ctx context.Context, fc *Client, action string, pathArgs []string, body *Req) (*Resp, error) {
	act, err := fc.action(action)
	if err != nil {
		return nil, err
	}
	path, err := fc.actionURL(act, pathArgs)
	if err != nil {
		return nil, err
	}
	switch act.Method {
	case http.MethodDelete:
		if err := client.Delete(ctx, fc.RT, path); err != nil {
			return nil, err
		}
		return new(Resp), nil
	case http.MethodGet:
		return client.Get[Resp](ctx, fc.RT, path)
	case http.MethodPost:
		if act.HasBody() {
			return client.Post[Req, Resp](ctx, fc.RT, path, body)
		}
		return client.PostEmpty[Resp](ctx, fc.RT, path)
	case http.MethodPut:
		if act.HasBody() {
			return client.Put[Req, Resp](ctx, fc.RT, path, body)
		}
		return client.PutEmpty[Resp](ctx, fc.RT, path)
	default:
		return nil, apperr.Newf(apperr.Internal, "действие %s: неподдерживаемый метод %s", act.Name, act.Method)
	}
}
