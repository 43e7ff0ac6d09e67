package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the journal-level oracles. Each query selects offending rows;
// an empty result means the oracle holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_outbox_mirrors_journal",
			SQL: `(SELECT kind, COUNT(*) FROM court_events GROUP BY kind
                   EXCEPT
                   SELECT topic, COUNT(*) FROM outbox GROUP BY topic)
                  UNION ALL
                  (SELECT topic, COUNT(*) FROM outbox GROUP BY topic
                   EXCEPT
                   SELECT kind, COUNT(*) FROM court_events GROUP BY kind)`,
		},
		{
			Name: "O2_dispute_ids_sequential",
			SQL: `SELECT * FROM (
                      SELECT (payload->>'dispute_id')::bigint AS id,
                             ROW_NUMBER() OVER (ORDER BY seq) - 1 AS want
                      FROM court_events WHERE kind = 'dispute.proposal_created') ids
                  WHERE id <> want`,
		},
		{
			Name: "O3_single_resolution",
			SQL: `SELECT payload->>'dispute_id', COUNT(*) FROM court_events
                  WHERE kind = 'dispute.resolved'
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_single_vote_per_juror",
			SQL: `SELECT payload->>'dispute_id', payload->>'juror_id', COUNT(*) FROM court_events
                  WHERE kind = 'dispute.vote_cast'
                  GROUP BY 1, 2 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_batches_contiguous",
			SQL: `SELECT batch_id FROM court_events
                  GROUP BY batch_id HAVING MAX(seq) - MIN(seq) + 1 <> COUNT(*)`,
		},
		{
			Name: "O6_no_events_after_resolution",
			SQL: `SELECT e.seq, e.kind FROM court_events e
                  JOIN court_events r ON r.kind = 'dispute.resolved'
                   AND r.payload->>'dispute_id' = e.payload->>'dispute_id'
                  WHERE e.kind LIKE 'dispute.%' AND e.seq > r.seq`,
		},
		{
			Name: "O7_juror_ids_sequential",
			SQL: `SELECT * FROM (
                      SELECT (payload->>'juror_id')::bigint AS id,
                             ROW_NUMBER() OVER (ORDER BY seq) AS want
                      FROM court_events WHERE kind = 'jury.member_admitted') ids
                  WHERE id <> want`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
