package postgres

// SQL statements for the activity engine's storage operations.

const (
	// queryEnqueueEvent inserts a raw event with tenant idempotency.
	// RETURNING retrieves the auto-generated ingest_seq for cursor tracking.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	queryEnqueueEvent = `
		INSERT INTO events (
			id, tenant_id, verb, actor_id, object_id, target_id,
			occurred_at, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, id) DO NOTHING
		RETURNING ingest_seq
	`

	// queryDequeueAfter fetches events after a cursor in strict total order.
	// The monotonic sequence prevents batch-boundary data loss on redelivery.
	queryDequeueAfter = `
		SELECT
			ingest_seq, id, tenant_id, verb, actor_id, object_id, target_id,
			occurred_at, ingested_at
		FROM events
		WHERE ingest_seq > $1
		ORDER BY ingest_seq ASC
		LIMIT $2
	`

	queryReadCheckpoint = `
		SELECT checkpoint_cursor FROM queue_checkpoints WHERE consumer = $1
	`

	// queryAdvanceCheckpoint keeps the cursor monotonic: a stale writer can
	// never move it backwards.
	queryAdvanceCheckpoint = `
		INSERT INTO queue_checkpoints (consumer, checkpoint_cursor, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer) DO UPDATE SET
			checkpoint_cursor = GREATEST(queue_checkpoints.checkpoint_cursor, EXCLUDED.checkpoint_cursor),
			updated_at        = EXCLUDED.updated_at
	`

	queryCreateActivity = `
		INSERT INTO activities (
			id, tenant_id, verb, actor_ids, object_ids, target_ids,
			published_at, revision, source_group_key
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	queryDeleteActivity = `DELETE FROM activities WHERE id = $1`

	queryGetActivity = `
		SELECT
			id, tenant_id, verb, actor_ids, object_ids, target_ids,
			published_at, revision, source_group_key
		FROM activities
		WHERE id = $1
	`

	queryGetAggregateState = `
		SELECT
			group_key, rule_name, tenant_id, verb,
			actor_ids, object_ids, target_ids,
			backing_kind, backing_activity_id,
			version, created_at, updated_at
		FROM aggregate_states
		WHERE group_key = $1
	`

	// queryInsertAggregateState creates a brand-new state at version 1.
	// ON CONFLICT DO NOTHING surfaces a lost create race as zero rows.
	queryInsertAggregateState = `
		INSERT INTO aggregate_states (
			group_key, rule_name, tenant_id, verb,
			actor_ids, object_ids, target_ids,
			backing_kind, backing_activity_id,
			version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
		ON CONFLICT (group_key) DO NOTHING
	`

	// queryUpdateAggregateState is the CAS write: it only lands if the stored
	// version still matches the one the caller read.
	queryUpdateAggregateState = `
		UPDATE aggregate_states SET
			actor_ids           = $2,
			object_ids          = $3,
			target_ids          = $4,
			backing_kind        = $5,
			backing_activity_id = $6,
			version             = version + 1,
			updated_at          = $7
		WHERE group_key = $1 AND version = $8
	`

	// queryUpsertDelivery is idempotent per (recipient, stream, activity,
	// bucket) — re-routing the same revision never duplicates a delivery.
	queryUpsertDelivery = `
		INSERT INTO delivery_records (
			recipient_id, stream, activity_id, bucket_id, collect_after, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id, stream, activity_id, bucket_id) DO NOTHING
	`

	queryListCollectableBuckets = `
		SELECT bucket_id
		FROM delivery_records
		WHERE collect_after <= $1
		GROUP BY bucket_id
		ORDER BY MIN(collect_after) ASC
		LIMIT $2
	`

	queryListBucket = `
		SELECT recipient_id, stream, activity_id, bucket_id, collect_after, created_at
		FROM delivery_records
		WHERE bucket_id = $1
		ORDER BY created_at ASC, recipient_id ASC, activity_id ASC
		LIMIT $2
	`

	queryDeleteDelivery = `
		DELETE FROM delivery_records
		WHERE recipient_id = $1 AND stream = $2 AND activity_id = $3 AND bucket_id = $4
	`

	// queryAppendFeedEntry denormalizes the activity into the recipient's
	// feed. Idempotent per (recipient, stream, activity, revision).
	queryAppendFeedEntry = `
		INSERT INTO feed_entries (
			recipient_id, stream, activity_id, revision,
			tenant_id, verb, actor_ids, object_ids, target_ids,
			published_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (recipient_id, stream, activity_id, revision) DO NOTHING
	`

	queryListFeed = `
		SELECT activity_id, revision, tenant_id, verb, actor_ids, object_ids, target_ids, published_at
		FROM feed_entries
		WHERE recipient_id = $1 AND stream = $2
		ORDER BY published_at DESC, activity_id DESC
		LIMIT $3 OFFSET $4
	`
)
