package orderlog

import (
	"context"
	"database/sql"
	"dropcarter/services/carter/checkout"
	"dropcarter/services/carter/orderlog/db"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Order is a placed order as recorded in the ledger.
type Order struct {
	RunID        string
	Sequence     int
	PlacedAt     time.Time
	Items        []string
	SnapshotPath string
}

// Ledger records the orders placed by a run. recording the same run id and
// sequence twice keeps the first row.
type Ledger struct {
	db    *sql.DB
	runID string
}

func NewLedger(database *sql.DB, runID string) Ledger {
	return Ledger{db: database, runID: runID}
}

func Migrate(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, db.Schema)
	return err
}

func (l Ledger) Record(ctx context.Context, order Order) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", order.RunID),
		attribute.Int("sequence", order.Sequence),
	)

	items := order.Items
	if items == nil {
		items = []string{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return err
	}

	_, err = l.db.ExecContext(
		ctx,
		`insert into placed_order(run_id, sequence, placed_at, items, snapshot_path)
		values (?, ?, ?, ?, ?)
		on conflict (run_id, sequence) do nothing`,
		order.RunID,
		order.Sequence,
		order.PlacedAt.Unix(),
		string(encoded),
		order.SnapshotPath,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert order")
		return err
	}
	return nil
}

// OrderPlaced records a placement under the ledger's run id.
func (l Ledger) OrderPlaced(ctx context.Context, placement checkout.Placement) error {
	err := l.Record(ctx, Order{
		RunID:        l.runID,
		Sequence:     placement.Number,
		PlacedAt:     placement.Time,
		Items:        placement.Cart,
		SnapshotPath: placement.SnapshotPath,
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "order recorded in ledger", "run_id", l.runID, "sequence", placement.Number)
	return nil
}

// List returns the most recent orders first, limit <= 0 returns everything.
func (l Ledger) List(ctx context.Context, limit int) ([]Order, error) {
	ctx, span := tracer.Start(ctx, "List")
	defer span.End()

	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(
		ctx,
		`select run_id, sequence, placed_at, items, snapshot_path from placed_order
		order by placed_at desc, run_id, sequence desc
		limit ?`,
		limit,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query orders")
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var order Order
		var placedAt int64
		var items string
		err := rows.Scan(&order.RunID, &order.Sequence, &placedAt, &items, &order.SnapshotPath)
		if err != nil {
			return nil, err
		}
		order.PlacedAt = time.Unix(placedAt, 0)
		err = json.Unmarshal([]byte(items), &order.Items)
		if err != nil {
			slog.WarnContext(ctx, "malformed item list in ledger", "run_id", order.RunID, "sequence", order.Sequence, "err", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
