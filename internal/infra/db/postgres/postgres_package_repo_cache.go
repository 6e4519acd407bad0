package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/metrics"
	red "drivepass-billing/internal/infra/redis"
)

var _ repository.PackageRepository = (*packageRepoCacheDecorator)(nil)

const packagesAllKey = "packages:active"

type packageRepoCacheDecorator struct {
	inner  repository.PackageRepository
	cache  red.RedisClient
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewPackageRepoCacheDecorator(inner repository.PackageRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.PackageRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &packageRepoCacheDecorator{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

func (d *packageRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	// Reads inside a transaction go straight to the database.
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := fmt.Sprintf("package:%s", id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var pkg model.Package
		if json.Unmarshal([]byte(val), &pkg) == nil {
			metrics.IncCacheRequest("package", "hit")
			return &pkg, nil
		}
	} else if !red.IsNil(err) {
		d.logger.Warn().Err(err).Str("key", key).Msg("package cache read failed")
	}

	metrics.IncCacheRequest("package", "miss")
	pkg, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(pkg); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return pkg, nil
}

// Save invalidates the package and the active list.
func (d *packageRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	if err := d.inner.Save(ctx, tx, p); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, fmt.Sprintf("package:%s", p.ID), packagesAllKey)
	return nil
}

func (d *packageRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	val, err := d.cache.Get(ctx, packagesAllKey)
	if err == nil {
		var pkgs []*model.Package
		if json.Unmarshal([]byte(val), &pkgs) == nil {
			metrics.IncCacheRequest("package_list", "hit")
			return pkgs, nil
		}
	}

	metrics.IncCacheRequest("package_list", "miss")
	pkgs, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(pkgs) > 0 {
		if b, err := json.Marshal(pkgs); err == nil {
			_ = d.cache.Set(ctx, packagesAllKey, b, d.ttl)
		}
	}
	return pkgs, nil
}
