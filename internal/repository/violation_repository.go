package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/model"
)

// ViolationQueue is the Redis list between the violation monitor and the
// archive worker.
type ViolationQueue struct {
	rdb *redis.Client
}

// NewViolationQueue creates a ViolationQueue.
func NewViolationQueue(rdb *redis.Client) *ViolationQueue {
	return &ViolationQueue{rdb: rdb}
}

// Push appends one report.
func (q *ViolationQueue) Push(ctx context.Context, r model.ViolationReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal violation report: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.ReportViolationsQueue, data).Err()
}

// Pop blocks up to timeout for the next raw report. It returns redis.Nil on
// timeout.
func (q *ViolationQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BLPop(ctx, timeout, config.WorkerKey.ReportViolationsQueue).Result()
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", redis.Nil
	}
	return result[1], nil
}

// Requeue pushes reports back in one pipeline.
func (q *ViolationQueue) Requeue(ctx context.Context, reports []model.ViolationReport) error {
	pipe := q.rdb.Pipeline()
	for _, r := range reports {
		data, _ := json.Marshal(r)
		pipe.RPush(ctx, config.WorkerKey.ReportViolationsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// IsEmpty reports whether err is the BLPop timeout.
func IsEmpty(err error) bool {
	return errors.Is(err, redis.Nil)
}

// ViolationRepository archives reported violations in PostgreSQL.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyMany bulk-inserts a batch with COPY.
func (r *ViolationRepository) CopyMany(ctx context.Context, batch []model.ViolationReport) error {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []any{v.ExamID, nullable(v.AttemptID), v.StudentID, string(v.Type), v.Timestamp})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"exam_violations"},
		[]string{"exam_id", "attempt_id", "student_id", "kind", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert stores a single report.
func (r *ViolationRepository) Insert(ctx context.Context, v model.ViolationReport) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (exam_id, attempt_id, student_id, kind, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.ExamID, nullable(v.AttemptID), v.StudentID, string(v.Type), v.Timestamp,
	)
	return err
}

// CountByExam returns how many violations each student has in an exam.
func (r *ViolationRepository) CountByExam(ctx context.Context, examID string) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM exam_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
