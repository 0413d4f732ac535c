package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/cache"
	"github.com/iudanet/gophsync/internal/models"
)

// listOptions параметры команд list и count
type listOptions struct {
	Where  string
	Sort   string
	After  string
	Source string
	Params []string
	Limit  int
}

func (c *Cli) buildQuery(collection string, opts listOptions) (*cache.Collection, cache.Source, error) {
	source, err := cache.ParseSource(opts.Source)
	if err != nil {
		return nil, source, err
	}

	q := c.cache.Collection(collection)
	if opts.Where != "" {
		params, err := parseParams(opts.Params)
		if err != nil {
			return nil, source, fmt.Errorf("invalid filter parameter: %w", err)
		}
		q = q.Where(opts.Where, params...)
	}
	if opts.Sort != "" {
		field, desc := parseSort(opts.Sort)
		q = q.OrderBy(field, desc)
	}
	return q, source, nil
}

func (c *Cli) runList(ctx context.Context, collection string, opts listOptions) error {
	q, source, err := c.buildQuery(collection, opts)
	if err != nil {
		return err
	}

	var startAfter models.Record
	if opts.After != "" {
		startAfter, err = c.findRecord(ctx, collection, opts.After, source)
		if err != nil {
			return err
		}
	}

	records, err := q.Get(ctx, opts.Limit, source, startAfter)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", collection, err)
	}

	for _, rec := range records {
		if err := c.printRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cli) runCount(ctx context.Context, collection string, opts listOptions) error {
	q, source, err := c.buildQuery(collection, opts)
	if err != nil {
		return err
	}

	n, err := q.GetCount(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to count %s: %w", collection, err)
	}
	c.io.Printf("%d\n", n)
	return nil
}

// findRecord загружает запись-курсор по id
func (c *Cli) findRecord(ctx context.Context, collection, id string, source cache.Source) (models.Record, error) {
	records, err := c.cache.Collection(collection).
		Where("id = ?", id).
		Get(ctx, 1, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor record: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("cursor record %s not found in %s", id, collection)
	}
	return records[0], nil
}

func (c *Cli) runCreate(ctx context.Context, collection string, args []string, rawJSON string) error {
	fields, err := c.mutationFields(args, rawJSON)
	if err != nil {
		return err
	}

	rec, err := c.cache.Collection(collection).Create(ctx, fields)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	c.io.Printf("✓ Record %s created\n", rec.ID())
	c.reportQueued(ctx)
	return c.printRecord(rec)
}

func (c *Cli) runUpdate(ctx context.Context, collection, id string, args []string, rawJSON string) error {
	fields, err := c.mutationFields(args, rawJSON)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return fmt.Errorf("nothing to update: pass key=value or --json")
	}

	rec, err := c.cache.Collection(collection).Update(ctx, id, fields)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	c.io.Printf("✓ Record %s updated\n", id)
	c.reportQueued(ctx)
	return c.printRecord(rec)
}

func (c *Cli) runDelete(ctx context.Context, collection, id string) error {
	if err := c.cache.Collection(collection).Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	c.io.Printf("✓ Record %s deleted\n", id)
	c.reportQueued(ctx)
	return nil
}

// mutationFields поля из --json и key=value; key=value перекрывают JSON
func (c *Cli) mutationFields(args []string, rawJSON string) (map[string]any, error) {
	fields := map[string]any{}
	if rawJSON != "" {
		rec, err := models.DecodeRecord([]byte(rawJSON))
		if err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
		for k, v := range rec {
			fields[k] = v
		}
	}

	kv, err := parseFields(args)
	if err != nil {
		return nil, err
	}
	for k, v := range kv {
		fields[k] = v
	}
	return fields, nil
}

// reportQueued сообщает, если мутация осталась в очереди
func (c *Cli) reportQueued(ctx context.Context) {
	pending, err := c.cache.Pending(ctx)
	if err != nil || pending == 0 {
		return
	}
	c.io.Printf("⚠️  Offline: %d mutation(s) queued, run 'gophsync sync' when online\n", pending)
}
