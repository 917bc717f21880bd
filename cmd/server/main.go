package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"korob/internal/admin"
	"korob/internal/backend/memkv"
	"korob/internal/backend/pg"
	"korob/internal/config"
	"korob/internal/facet"
	"korob/internal/model"
	"korob/internal/reference"
	"korob/internal/schema"
	"korob/internal/store"
)

// Встроенный демонстрационный набор моделей: задачи плюс учётные записи.
type User struct {
	ID model.ID `json:"id" korob:"pk"`
	model.Common
}

type Item struct {
	ID       model.ID `json:"id" korob:"pk"`
	Priority uint32   `json:"priority" korob:"index"`
	Status   string   `json:"status" korob:"index"`
	model.Common
}

type Device struct {
	ID    model.ID   `json:"id" korob:"pk"`
	Owner model.Name `json:"owner"`
	model.Common
}

func main() {
	cfg := config.LoadWithPath("config.json")

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	userDesc := model.Describe("auth", "user", User{}, model.WithCollection("users"))
	itemDesc := model.Describe("test", "item", Item{}, model.WithCollection("items"))
	deviceDesc := model.Describe("test", "device", Device{},
		model.WithCollection("devices"),
		model.WithRef("owner", userDesc))

	// Справочники и правки виджетов
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.EnumsDir).Msg("справочники не загружены")
	}
	overrides, err := schema.LoadOverrides(cfg.OverridesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("загрузка правок виджетов")
	}

	sch := schema.Assemble("korob",
		&schema.ModuleDef{
			ID:    "auth",
			Label: "Учётные записи",
			Resources: []*schema.ResourceDef{
				schema.Resource(userDesc, "Пользователи"),
			},
			Hierarchy: []schema.TreeNode{{Resource: "users", Label: "Пользователи"}},
		},
		&schema.ModuleDef{
			ID:    "test",
			Label: "Задачи",
			Resources: []*schema.ResourceDef{
				schema.Resource(itemDesc, "Задачи"),
				schema.Resource(deviceDesc, "Устройства").WithAction("test", "assign"),
			},
			Enums: enums,
			Hierarchy: []schema.TreeNode{
				{Resource: "items", Label: "Задачи"},
				{Resource: "devices", Label: "Устройства"},
			},
		},
	)
	schema.ApplyOverrides(sch, overrides)

	var auth admin.Authenticator = admin.AllowAll{}
	if cfg.Token != "" {
		auth = admin.StaticToken{Token: cfg.Token}
	}

	r := gin.New()
	r.Use(gin.Recovery(), admin.RequestLogger(log))
	r.GET("/schema", func(c *gin.Context) { c.JSON(http.StatusOK, sch) })

	authRouter := admin.New("auth", auth, log)
	testRouter := admin.New("test", auth, log)

	if cfg.DBURL != "" {
		db, err := pg.Open(cfg.DBURL)
		if err != nil {
			log.Fatal().Err(err).Msg("подключение к Postgres")
		}
		be := pg.New(db)
		users := store.NewSql[User](be, userDesc)
		items := store.NewSql[Item](be, itemDesc)
		devices := store.NewSql[Device](be, deviceDesc)
		ctx := context.Background()
		for _, ensure := range []func(context.Context) error{
			users.EnsureTable, items.EnsureTable, devices.EnsureTable,
		} {
			if err := ensure(ctx); err != nil {
				log.Fatal().Err(err).Msg("подготовка таблиц")
			}
		}
		authRouter.Mount(r.Group("/admin/auth"), users)
		testRouter.Mount(r.Group("/admin/test"), items, devices)
		mountPanel(r, log, items, devices)
		log.Info().Msg("бэкенд: Postgres")
	} else {
		kv := memkv.New()
		if cfg.DataFile != "" {
			kv, err = memkv.Open(cfg.DataFile)
			if err != nil {
				log.Fatal().Err(err).Str("file", cfg.DataFile).Msg("загрузка снапшота")
			}
		}
		items := store.NewKv[Item](kv, itemDesc)
		devices := store.NewKv[Device](kv, deviceDesc)
		authRouter.Mount(r.Group("/admin/auth"), store.NewKv[User](kv, userDesc))
		testRouter.Mount(r.Group("/admin/test"), items, devices)
		mountPanel(r, log, items, devices)
		log.Info().Msg("бэкенд: in-memory")
	}

	log.Info().Str("port", cfg.Port).Msg("сервер запущен")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("остановка сервера")
	}
}

// panelResource сужает админский ресурс до проекции фасета.
type panelResource struct {
	res admin.Resource
}

func (p panelResource) ListJSON(ctx context.Context, limit, offset int) ([][]byte, bool, error) {
	return p.res.ListJSON(ctx, limit, offset)
}

func (p panelResource) GetJSON(ctx context.Context, id string) ([]byte, error) {
	return p.res.GetJSON(ctx, []string{id})
}

// mountPanel объявляет и монтирует фасет panel для модуля test:
// проекция задач плюс действие назначения владельца устройства.
func mountPanel(r *gin.Engine, log zerolog.Logger, items, devices admin.Resource) {
	def := &facet.Definition{
		Name:   "panel",
		Module: "test",
		Resources: []facet.Resource{
			{Name: "tasks", Path: "items", PK: "id", Singular: "task", Proto: Item{}},
		},
		Actions: []facet.Action{
			{
				Name:   "assign",
				Method: http.MethodPost,
				Path:   "/devices/{id}/assign",
				Params: []facet.Param{{Name: "id", InPath: true}, {Name: "owner"}},
			},
		},
	}
	h := facet.NewHandlers(def).
		Resource("tasks", panelResource{items}).
		Action("assign", func(ctx context.Context, params map[string]string, body []byte) (any, error) {
			raw, err := devices.PatchJSON(ctx, []string{params["id"]}, body)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(raw), nil
		})
	if err := h.Mount(r.Group("")); err != nil {
		log.Fatal().Err(err).Msg("монтирование фасета panel")
	}
}
