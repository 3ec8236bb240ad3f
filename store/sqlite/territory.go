package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/territory-engine/generic"
	"github.com/warp/territory-engine/territory"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TERRITORIES (territory.Store)
// =============================================================================

const territoryColumns = `id, name, description, postal_codes_json, state_code, status,
	protection_type, protection_start, protection_end, boundary_json,
	account_count, active_account_count, trailing_revenue, metrics_updated_at,
	current_rep_id, created_at, updated_at`

// InsertTerritory stores t and claims its postal codes.
func (s *Store) InsertTerritory(ctx context.Context, t territory.Territory) error {
	codesJSON, err := json.Marshal(t.PostalCodes)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO territories (`+territoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.Description, string(codesJSON), t.StateCode, string(t.Status),
			string(t.ProtectionType), nullTime(t.ProtectionStart), nullTime(t.ProtectionEnd), nullRaw(t.Boundary),
			t.Metrics.AccountCount, t.Metrics.ActiveAccountCount, t.Metrics.TrailingRevenue.String(), nullTime(t.Metrics.UpdatedAt),
			nullString(t.CurrentRepID), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert territory: %w", err)
		}
		if t.Status == territory.StatusInactive {
			return nil
		}
		return claimCodes(ctx, q, t.ID, t.PostalCodes)
	})
}

// UpdateTerritory rewrites t and replaces its claims. Inactive territories
// hold no claims.
func (s *Store) UpdateTerritory(ctx context.Context, t territory.Territory) error {
	codesJSON, err := json.Marshal(t.PostalCodes)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE territories SET
				name = ?, description = ?, postal_codes_json = ?, state_code = ?, status = ?,
				protection_type = ?, protection_start = ?, protection_end = ?, boundary_json = ?,
				account_count = ?, active_account_count = ?, trailing_revenue = ?, metrics_updated_at = ?,
				current_rep_id = ?, updated_at = ?
			WHERE id = ?`,
			t.Name, t.Description, string(codesJSON), t.StateCode, string(t.Status),
			string(t.ProtectionType), nullTime(t.ProtectionStart), nullTime(t.ProtectionEnd), nullRaw(t.Boundary),
			t.Metrics.AccountCount, t.Metrics.ActiveAccountCount, t.Metrics.TrailingRevenue.String(), nullTime(t.Metrics.UpdatedAt),
			nullString(t.CurrentRepID), formatTime(t.UpdatedAt),
			t.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update territory: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewNotFound("territory", t.ID)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM territory_postal_codes WHERE territory_id = ?`, t.ID); err != nil {
			return fmt.Errorf("failed to release postal codes: %w", err)
		}
		if t.Status == territory.StatusInactive {
			return nil
		}
		return claimCodes(ctx, q, t.ID, t.PostalCodes)
	})
}

// claimCodes inserts one claim per code. A code owned elsewhere fails with
// *generic.ConflictError.
func claimCodes(ctx context.Context, q querier, territoryID string, codes []string) error {
	for _, code := range codes {
		_, err := q.ExecContext(ctx,
			`INSERT INTO territory_postal_codes (postal_code, territory_id) VALUES (?, ?)`,
			code, territoryID)
		if err == nil {
			continue
		}
		if violates(err, "territory_postal_codes.postal_code") {
			conflicts, ferr := findClaims(ctx, q, codes, territoryID)
			if ferr != nil {
				return ferr
			}
			if len(conflicts) == 0 {
				return fmt.Errorf("%w: postal code %s", generic.ErrConflict, code)
			}
			return generic.NewConflictError(conflicts)
		}
		return fmt.Errorf("failed to claim postal code %s: %w", code, err)
	}
	return nil
}

// GetTerritory retrieves a territory by ID.
func (s *Store) GetTerritory(ctx context.Context, id string) (*territory.Territory, error) {
	var t *territory.Territory
	err := s.read(ctx, func(q querier) error {
		row := q.QueryRowContext(ctx, `SELECT `+territoryColumns+` FROM territories WHERE id = ?`, id)
		got, err := scanTerritory(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		t = &got
		return nil
	})
	return t, err
}

// ListTerritories returns territories matching f, oldest first.
func (s *Store) ListTerritories(ctx context.Context, f territory.Filter) ([]territory.Territory, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.StateCode != "" {
		where = append(where, "state_code = ?")
		args = append(args, f.StateCode)
	}
	if f.RepID != "" {
		where = append(where, "current_rep_id = ?")
		args = append(args, f.RepID)
	}
	query := `SELECT ` + territoryColumns + ` FROM territories`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var out []territory.Territory
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query territories: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTerritory(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// RoutableByPostalCode returns the assigned or protected territory claiming code.
func (s *Store) RoutableByPostalCode(ctx context.Context, code string) (*territory.Territory, error) {
	var t *territory.Territory
	err := s.read(ctx, func(q querier) error {
		row := q.QueryRowContext(ctx, `
			SELECT `+prefixed("t", territoryColumns)+`
			FROM territory_postal_codes pc
			JOIN territories t ON t.id = pc.territory_id
			WHERE pc.postal_code = ? AND t.status IN (?, ?)`,
			code, string(territory.StatusAssigned), string(territory.StatusProtected))
		got, err := scanTerritory(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		t = &got
		return nil
	})
	return t, err
}

// FindClaims returns which of codes are claimed by a territory other than excludeID.
func (s *Store) FindClaims(ctx context.Context, codes []string, excludeID string) ([]generic.CodeConflict, error) {
	var out []generic.CodeConflict
	err := s.read(ctx, func(q querier) error {
		var err error
		out, err = findClaims(ctx, q, codes, excludeID)
		return err
	})
	return out, err
}

func findClaims(ctx context.Context, q querier, codes []string, excludeID string) ([]generic.CodeConflict, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	args := append(stringArgs(codes), excludeID)
	rows, err := q.QueryContext(ctx, `
		SELECT pc.postal_code, t.id, t.name
		FROM territory_postal_codes pc
		JOIN territories t ON t.id = pc.territory_id
		WHERE pc.postal_code IN (`+placeholders(len(codes))+`) AND pc.territory_id != ?
		ORDER BY pc.postal_code`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query postal code claims: %w", err)
	}
	defer rows.Close()

	var out []generic.CodeConflict
	for rows.Next() {
		var c generic.CodeConflict
		if err := rows.Scan(&c.PostalCode, &c.TerritoryID, &c.TerritoryName); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTerritory(row scanner) (territory.Territory, error) {
	var (
		t                 territory.Territory
		codesJSON         string
		status, protType  string
		protStart         sql.NullString
		protEnd           sql.NullString
		boundary          sql.NullString
		trailingRevenue   string
		metricsUpdatedAt  sql.NullString
		currentRep        sql.NullString
		createdAt, update string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &codesJSON, &t.StateCode, &status,
		&protType, &protStart, &protEnd, &boundary,
		&t.Metrics.AccountCount, &t.Metrics.ActiveAccountCount, &trailingRevenue, &metricsUpdatedAt,
		&currentRep, &createdAt, &update,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan territory: %w", err)
	}

	if err := json.Unmarshal([]byte(codesJSON), &t.PostalCodes); err != nil {
		return t, fmt.Errorf("territory %s: invalid postal codes: %w", t.ID, err)
	}
	t.Status = territory.Status(status)
	t.ProtectionType = territory.ProtectionType(protType)
	t.CurrentRepID = currentRep.String
	if boundary.Valid && boundary.String != "" {
		t.Boundary = json.RawMessage(boundary.String)
	}
	if t.Metrics.TrailingRevenue, err = decimal.NewFromString(trailingRevenue); err != nil {
		return t, fmt.Errorf("territory %s: invalid trailing revenue: %w", t.ID, err)
	}
	if t.ProtectionStart, err = parseNullTime(protStart); err != nil {
		return t, err
	}
	if t.ProtectionEnd, err = parseNullTime(protEnd); err != nil {
		return t, err
	}
	if t.Metrics.UpdatedAt, err = parseNullTime(metricsUpdatedAt); err != nil {
		return t, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = parseTime(update); err != nil {
		return t, err
	}
	return t, nil
}

// =============================================================================
// PROTECTION RULES
// =============================================================================

// GetProtectionRule returns the rule of a territory.
func (s *Store) GetProtectionRule(ctx context.Context, territoryID string) (*territory.ProtectionRule, error) {
	var r *territory.ProtectionRule
	err := s.read(ctx, func(q querier) error {
		var (
			rule                     territory.ProtectionRule
			ruleType, policy         string
			minRevenue, threshold    string
			inheritorsJSON, splitPct string
			createdAt, updatedAt     string
		)
		err := q.QueryRowContext(ctx, `
			SELECT id, territory_id, rule_type, min_accounts, min_revenue, period_days,
			       performance_threshold_pct, inheritance_policy, approved_inheritors_json,
			       split_enabled, split_original_rep_pct, split_duration_days, created_at, updated_at
			FROM protection_rules WHERE territory_id = ?`, territoryID).Scan(
			&rule.ID, &rule.TerritoryID, &ruleType, &rule.Conditions.MinAccounts, &minRevenue, &rule.Conditions.PeriodDays,
			&threshold, &policy, &inheritorsJSON,
			&rule.Split.Enabled, &splitPct, &rule.Split.DurationDays, &createdAt, &updatedAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get protection rule: %w", err)
		}

		rule.Type = territory.RuleType(ruleType)
		rule.Inheritance.Policy = territory.InheritancePolicy(policy)
		if err := json.Unmarshal([]byte(inheritorsJSON), &rule.Inheritance.ApprovedInheritors); err != nil {
			return fmt.Errorf("protection rule %s: invalid inheritors: %w", rule.ID, err)
		}
		if len(rule.Inheritance.ApprovedInheritors) == 0 {
			rule.Inheritance.ApprovedInheritors = nil
		}
		if err := parseDecimals("protection rule "+rule.ID,
			decimalColumn{"min_revenue", minRevenue, &rule.Conditions.MinRevenue},
			decimalColumn{"performance_threshold_pct", threshold, &rule.Conditions.PerformanceThresholdPct},
			decimalColumn{"split_original_rep_pct", splitPct, &rule.Split.OriginalRepPct},
		); err != nil {
			return err
		}
		if rule.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if rule.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		r = &rule
		return nil
	})
	return r, err
}

// UpsertProtectionRule creates or replaces the rule of r.TerritoryID.
func (s *Store) UpsertProtectionRule(ctx context.Context, r territory.ProtectionRule) error {
	inheritors := r.Inheritance.ApprovedInheritors
	if inheritors == nil {
		inheritors = []string{}
	}
	inheritorsJSON, err := json.Marshal(inheritors)
	if err != nil {
		return err
	}
	policy := r.Inheritance.Policy
	if policy == "" {
		policy = territory.InheritAllow
	}
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO protection_rules
			(id, territory_id, rule_type, min_accounts, min_revenue, period_days,
			 performance_threshold_pct, inheritance_policy, approved_inheritors_json,
			 split_enabled, split_original_rep_pct, split_duration_days, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(territory_id) DO UPDATE SET
				rule_type = excluded.rule_type,
				min_accounts = excluded.min_accounts,
				min_revenue = excluded.min_revenue,
				period_days = excluded.period_days,
				performance_threshold_pct = excluded.performance_threshold_pct,
				inheritance_policy = excluded.inheritance_policy,
				approved_inheritors_json = excluded.approved_inheritors_json,
				split_enabled = excluded.split_enabled,
				split_original_rep_pct = excluded.split_original_rep_pct,
				split_duration_days = excluded.split_duration_days,
				updated_at = excluded.updated_at`,
			r.ID, r.TerritoryID, string(r.Type), r.Conditions.MinAccounts, r.Conditions.MinRevenue.String(), r.Conditions.PeriodDays,
			r.Conditions.PerformanceThresholdPct.String(), string(policy), string(inheritorsJSON),
			r.Split.Enabled, r.Split.OriginalRepPct.String(), r.Split.DurationDays, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save protection rule: %w", err)
		}
		return nil
	})
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, territory_id, rep_id, assigned_at, assigned_by, status,
	protection_level, commission_override, notes, ended_at, transfer_history_json`

// InsertAssignment stores a new assignment. A second active assignment for
// the same territory is rejected by the schema.
func (s *Store) InsertAssignment(ctx context.Context, a territory.Assignment) error {
	historyJSON, err := marshalHistory(a.TransferHistory)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO territory_assignments (`+assignmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TerritoryID, a.RepID, formatTime(a.AssignedAt), a.AssignedBy, string(a.Status),
			string(a.ProtectionLevel), nullDecimal(a.CommissionOverride), a.Notes, nullTime(a.EndedAt), historyJSON,
		)
		if err != nil {
			if violates(err, "territory_assignments.territory_id") {
				return &generic.InvalidStateTransitionError{Kind: "territory", ID: a.TerritoryID, From: "assigned", To: "assigned"}
			}
			return fmt.Errorf("failed to insert assignment: %w", err)
		}
		return nil
	})
}

// UpdateAssignment writes the mutable fields of a (status, level, end, history).
func (s *Store) UpdateAssignment(ctx context.Context, a territory.Assignment) error {
	historyJSON, err := marshalHistory(a.TransferHistory)
	if err != nil {
		return err
	}
	return s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE territory_assignments SET
				status = ?, protection_level = ?, commission_override = ?, notes = ?,
				ended_at = ?, transfer_history_json = ?
			WHERE id = ?`,
			string(a.Status), string(a.ProtectionLevel), nullDecimal(a.CommissionOverride), a.Notes,
			nullTime(a.EndedAt), historyJSON, a.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update assignment: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewNotFound("assignment", a.ID)
		}
		return nil
	})
}

// ActiveAssignment returns the active assignment of a territory, if any.
func (s *Store) ActiveAssignment(ctx context.Context, territoryID string) (*territory.Assignment, error) {
	var a *territory.Assignment
	err := s.read(ctx, func(q querier) error {
		row := q.QueryRowContext(ctx, `
			SELECT `+assignmentColumns+` FROM territory_assignments
			WHERE territory_id = ? AND status = ?`,
			territoryID, string(territory.AssignmentActive))
		got, err := scanAssignment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		a = &got
		return nil
	})
	return a, err
}

// ListAssignments returns every assignment of a territory, oldest first.
func (s *Store) ListAssignments(ctx context.Context, territoryID string) ([]territory.Assignment, error) {
	var out []territory.Assignment
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+assignmentColumns+` FROM territory_assignments
			WHERE territory_id = ? ORDER BY seq ASC`, territoryID)
		if err != nil {
			return fmt.Errorf("failed to query assignments: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAssignment(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func scanAssignment(row scanner) (territory.Assignment, error) {
	var (
		a             territory.Assignment
		assignedAt    string
		status, level string
		override      sql.NullString
		endedAt       sql.NullString
		historyJSON   string
	)
	err := row.Scan(&a.ID, &a.TerritoryID, &a.RepID, &assignedAt, &a.AssignedBy, &status,
		&level, &override, &a.Notes, &endedAt, &historyJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan assignment: %w", err)
	}
	a.Status = territory.AssignmentStatus(status)
	a.ProtectionLevel = territory.ProtectionLevel(level)
	if override.Valid {
		d, err := decimal.NewFromString(override.String)
		if err != nil {
			return a, fmt.Errorf("assignment %s: invalid override: %w", a.ID, err)
		}
		a.CommissionOverride = &d
	}
	if err := json.Unmarshal([]byte(historyJSON), &a.TransferHistory); err != nil {
		return a, fmt.Errorf("assignment %s: invalid history: %w", a.ID, err)
	}
	if len(a.TransferHistory) == 0 {
		a.TransferHistory = nil
	}
	if a.AssignedAt, err = parseTime(assignedAt); err != nil {
		return a, err
	}
	if a.EndedAt, err = parseNullTime(endedAt); err != nil {
		return a, err
	}
	return a, nil
}

func marshalHistory(h []territory.TransferEntry) (string, error) {
	if h == nil {
		h = []territory.TransferEntry{}
	}
	b, err := json.Marshal(h)
	return string(b), err
}

// =============================================================================
// CONFLICT REPORTS
// =============================================================================

const conflictColumns = `id, territory_id, reporting_rep_id, conflict_type, details,
	status, resolution, resolved_by, resolved_at, created_at`

// InsertConflictReport stores a new dispute.
func (s *Store) InsertConflictReport(ctx context.Context, c territory.ConflictReport) error {
	return s.write(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO territory_conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TerritoryID, c.ReportingRepID, string(c.Type), c.Details,
			string(c.Status), c.Resolution, c.ResolvedBy, nullTime(c.ResolvedAt), formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert conflict report: %w", err)
		}
		return nil
	})
}

// UpdateConflictReport writes the resolution fields of c.
func (s *Store) UpdateConflictReport(ctx context.Context, c territory.ConflictReport) error {
	return s.write(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE territory_conflicts SET status = ?, resolution = ?, resolved_by = ?, resolved_at = ?
			WHERE id = ?`,
			string(c.Status), c.Resolution, c.ResolvedBy, nullTime(c.ResolvedAt), c.ID)
		if err != nil {
			return fmt.Errorf("failed to update conflict report: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return generic.NewNotFound("conflict", c.ID)
		}
		return nil
	})
}

// GetConflictReport retrieves a dispute by ID.
func (s *Store) GetConflictReport(ctx context.Context, id string) (*territory.ConflictReport, error) {
	var c *territory.ConflictReport
	err := s.read(ctx, func(q querier) error {
		got, err := scanConflict(q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM territory_conflicts WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		c = &got
		return nil
	})
	return c, err
}

// ListConflictReports returns disputes, optionally narrowed by territory and status.
func (s *Store) ListConflictReports(ctx context.Context, territoryID string, status territory.ConflictStatus) ([]territory.ConflictReport, error) {
	var (
		where []string
		args  []any
	)
	if territoryID != "" {
		where = append(where, "territory_id = ?")
		args = append(args, territoryID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	query := `SELECT ` + conflictColumns + ` FROM territory_conflicts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var out []territory.ConflictReport
	err := s.read(ctx, func(q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to query conflict reports: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanConflict(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func scanConflict(row scanner) (territory.ConflictReport, error) {
	var (
		c            territory.ConflictReport
		conflictType string
		status       string
		resolvedAt   sql.NullString
		createdAt    string
	)
	err := row.Scan(&c.ID, &c.TerritoryID, &c.ReportingRepID, &conflictType, &c.Details,
		&status, &c.Resolution, &c.ResolvedBy, &resolvedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan conflict report: %w", err)
	}
	c.Type = territory.ConflictType(conflictType)
	c.Status = territory.ConflictStatus(status)
	if c.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// prefixed qualifies a comma separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
