package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/flight"
	"ormdash.org/internal/risk"
)

var _ flight.Store = (*Store)(nil)

const unitColumns = `id, name, patch_image_url, checklist_url, orm_matrix, last_updated`

const flightColumns = `id, unit_id, flight_date, aircraft_commander, callsign, tail_number,
	aircraft_type, mission_type, crew_count, total_risk_score, risk_tier, average_crew_risk,
	is_briefed, is_approved, approval_by, required_approval, submitted_at, last_edited,
	template_version, orm_matrix_snapshot, is_pii_scrubbed, approval_role`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateUnit(ctx context.Context, u flight.Unit) error {
	if err := u.Matrix.Validate(); err != nil {
		return err
	}
	raw, err := u.Matrix.Encode()
	if err != nil {
		return fmt.Errorf("encode matrix: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into units (`+unitColumns+`)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Name, u.PatchImageURL, u.ChecklistURL, raw, utc(u.LastUpdated))
	return s.fail(err, "unit "+u.ID)
}

func (s *Store) GetUnit(ctx context.Context, id string) (flight.Unit, error) {
	return s.getUnit(ctx, s.db, id, "")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getUnit(ctx context.Context, q querier, id, lock string) (flight.Unit, error) {
	row := q.QueryRowContext(ctx, `select `+unitColumns+` from units where id = $1`+lock, id)
	u, err := scanUnit(row)
	if err != nil {
		return flight.Unit{}, s.fail(err, "unit "+id)
	}
	return u, nil
}

func scanUnit(row rowScanner) (flight.Unit, error) {
	var (
		u   flight.Unit
		raw []byte
	)
	if err := row.Scan(&u.ID, &u.Name, &u.PatchImageURL, &u.ChecklistURL, &raw, &u.LastUpdated); err != nil {
		return flight.Unit{}, err
	}
	m, err := risk.DecodeMatrix(raw)
	if err != nil {
		return flight.Unit{}, fmt.Errorf("unit %s matrix: %w", u.ID, err)
	}
	u.Matrix = m
	u.LastUpdated = u.LastUpdated.UTC()
	return u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]flight.Unit, error) {
	rows, err := s.db.QueryContext(ctx, `select `+unitColumns+` from units order by id`)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	var out []flight.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, errs.Unavailable(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

func (s *Store) UpdateUnit(ctx context.Context, u flight.Unit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := s.getUnit(ctx, tx, u.ID, s.dialect.LockClause)
		if err != nil {
			return err
		}
		var referenced bool
		if err := tx.QueryRowContext(ctx, `select exists (select 1 from flights where unit_id = $1)`, u.ID).Scan(&referenced); err != nil {
			return errs.Unavailable(err)
		}
		if err := flight.CheckUnitUpdate(before, u, referenced); err != nil {
			return err
		}
		raw, err := u.Matrix.Encode()
		if err != nil {
			return fmt.Errorf("encode matrix: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			update units
			set name = $2, patch_image_url = $3, checklist_url = $4, orm_matrix = $5, last_updated = $6
			where id = $1
		`, u.ID, u.Name, u.PatchImageURL, u.ChecklistURL, raw, utc(u.LastUpdated))
		return s.fail(err, "unit "+u.ID)
	})
}

func (s *Store) CreateFlight(ctx context.Context, f flight.Flight) error {
	snapshot, err := f.MatrixSnapshot.Encode()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into flights (`+flightColumns+`)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		`, f.ID, f.UnitID, utc(f.FlightDate), f.Commander, f.Callsign, f.TailNumber,
			f.AircraftType, f.MissionType, f.CrewCount, f.TotalRiskScore, f.RiskTier.String(), f.CrewRisk.String(),
			f.IsBriefed, f.IsApproved, f.ApprovalBy, f.RequiredApproval, utc(f.SubmittedAt), utc(f.LastEdited),
			f.TemplateVersion, snapshot, f.PIIScrubbed, f.ApprovalRole)
		if err != nil {
			return s.fail(err, "flight "+f.ID)
		}
		for i, h := range f.Hazards {
			hazard, err := json.Marshal(h.Response.Hazard)
			if err != nil {
				return fmt.Errorf("encode hazard: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				insert into flight_hazards (id, flight_id, seq, hazard_id, hazard_name, hazard_snapshot,
					selected_option_id, selected_option_label, selected_severity, score)
				values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, h.ID, f.ID, i, h.Response.Hazard.ID, h.Response.Hazard.Name, hazard,
				h.Response.OptionID, h.Response.OptionLabel, h.Response.Severity.String(), h.Response.Score)
			if err != nil {
				return s.fail(err, "hazard "+h.ID)
			}
		}
		for i, c := range f.Crew {
			responses, err := json.Marshal(c.Responses)
			if err != nil {
				return fmt.Errorf("encode crew responses: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				insert into crew_members (id, flight_id, seq, name, position, total_score, risk_level, responses, created_at)
				values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, c.ID, f.ID, i, c.Name, c.Position, c.TotalScore, c.RiskLevel.String(), responses, utc(c.CreatedAt))
			if err != nil {
				return s.fail(err, "crew member "+c.ID)
			}
		}
		return nil
	})
}

func (s *Store) GetFlight(ctx context.Context, id string) (flight.Flight, error) {
	return s.getFlight(ctx, s.db, id, "")
}

func (s *Store) getFlight(ctx context.Context, q querier, id, lock string) (flight.Flight, error) {
	row := q.QueryRowContext(ctx, `select `+flightColumns+` from flights where id = $1`+lock, id)
	f, err := scanFlight(row)
	if err != nil {
		return flight.Flight{}, s.fail(err, "flight "+id)
	}
	flights := []flight.Flight{f}
	if err := s.loadChildren(ctx, q, flights); err != nil {
		return flight.Flight{}, err
	}
	return flights[0], nil
}

func scanFlight(row rowScanner) (flight.Flight, error) {
	var (
		f              flight.Flight
		tier, crewRisk string
		snapshot       []byte
	)
	err := row.Scan(&f.ID, &f.UnitID, &f.FlightDate, &f.Commander, &f.Callsign, &f.TailNumber,
		&f.AircraftType, &f.MissionType, &f.CrewCount, &f.TotalRiskScore, &tier, &crewRisk,
		&f.IsBriefed, &f.IsApproved, &f.ApprovalBy, &f.RequiredApproval, &f.SubmittedAt, &f.LastEdited,
		&f.TemplateVersion, &snapshot, &f.PIIScrubbed, &f.ApprovalRole)
	if err != nil {
		return flight.Flight{}, err
	}
	if f.RiskTier, err = risk.ParseLevel(tier); err != nil {
		return flight.Flight{}, err
	}
	if f.CrewRisk, err = risk.ParseLevel(crewRisk); err != nil {
		return flight.Flight{}, err
	}
	if f.MatrixSnapshot, err = risk.DecodeMatrix(snapshot); err != nil {
		return flight.Flight{}, fmt.Errorf("flight %s snapshot: %w", f.ID, err)
	}
	f.FlightDate = f.FlightDate.UTC()
	f.SubmittedAt = f.SubmittedAt.UTC()
	f.LastEdited = f.LastEdited.UTC()
	return f, nil
}

// loadChildren fills hazards and crew for every flight with one query each.
func (s *Store) loadChildren(ctx context.Context, q querier, flights []flight.Flight) error {
	if len(flights) == 0 {
		return nil
	}
	index := make(map[string]int, len(flights))
	args := make([]any, len(flights))
	for i := range flights {
		index[flights[i].ID] = i
		args[i] = flights[i].ID
		flights[i].Hazards = []flight.Hazard{}
		flights[i].Crew = []flight.CrewMember{}
	}
	in := placeholders(1, len(args))

	rows, err := q.QueryContext(ctx, `
		select id, flight_id, hazard_snapshot, selected_option_id, selected_option_label, selected_severity, score
		from flight_hazards
		where flight_id in (`+in+`)
		order by flight_id, seq
	`, args...)
	if err != nil {
		return errs.Unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			h        flight.Hazard
			snapshot []byte
			severity string
		)
		if err := rows.Scan(&h.ID, &h.FlightID, &snapshot, &h.Response.OptionID, &h.Response.OptionLabel, &severity, &h.Response.Score); err != nil {
			return errs.Unavailable(err)
		}
		if err := json.Unmarshal(snapshot, &h.Response.Hazard); err != nil {
			return fmt.Errorf("hazard %s snapshot: %w", h.ID, err)
		}
		if h.Response.Severity, err = risk.ParseLevel(severity); err != nil {
			return err
		}
		i := index[h.FlightID]
		flights[i].Hazards = append(flights[i].Hazards, h)
	}
	if err := rows.Err(); err != nil {
		return errs.Unavailable(err)
	}

	crewRows, err := q.QueryContext(ctx, `
		select id, flight_id, name, position, total_score, risk_level, responses, created_at
		from crew_members
		where flight_id in (`+in+`)
		order by flight_id, seq
	`, args...)
	if err != nil {
		return errs.Unavailable(err)
	}
	defer crewRows.Close()
	for crewRows.Next() {
		var (
			c         flight.CrewMember
			level     string
			responses []byte
		)
		if err := crewRows.Scan(&c.ID, &c.FlightID, &c.Name, &c.Position, &c.TotalScore, &level, &responses, &c.CreatedAt); err != nil {
			return errs.Unavailable(err)
		}
		if c.RiskLevel, err = risk.ParseLevel(level); err != nil {
			return err
		}
		if err := json.Unmarshal(responses, &c.Responses); err != nil {
			return fmt.Errorf("crew member %s responses: %w", c.ID, err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		i := index[c.FlightID]
		flights[i].Crew = append(flights[i].Crew, c)
	}
	if err := crewRows.Err(); err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

func (s *Store) ListFlights(ctx context.Context, filter flight.Filter) ([]flight.Flight, error) {
	var (
		where []string
		args  []any
	)
	if !filter.AllUnits {
		if len(filter.UnitIDs) == 0 {
			return []flight.Flight{}, nil
		}
		for _, id := range filter.UnitIDs {
			args = append(args, id)
		}
		where = append(where, "unit_id in ("+placeholders(1, len(args))+")")
	}
	if !filter.From.IsZero() {
		args = append(args, utc(filter.From))
		where = append(where, fmt.Sprintf("flight_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, utc(filter.To))
		where = append(where, fmt.Sprintf("flight_date <= $%d", len(args)))
	}
	query := `select ` + flightColumns + ` from flights`
	if len(where) > 0 {
		query += " where " + joinAnd(where)
	}
	query += " order by flight_date desc, id desc"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	out := []flight.Flight{}
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, errs.Unavailable(err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(err)
	}
	if err := s.loadChildren(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateFlight(ctx context.Context, id string, fn func(*flight.Flight) error) (flight.Flight, error) {
	var updated flight.Flight
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := s.getFlight(ctx, tx, id, s.dialect.LockClause)
		if err != nil {
			return err
		}
		working := before.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		if err := flight.CheckMutation(before, working); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			update flights
			set aircraft_commander = $2, callsign = $3, tail_number = $4, aircraft_type = $5,
				mission_type = $6, is_briefed = $7, is_approved = $8, approval_by = $9,
				required_approval = $10, last_edited = $11, is_pii_scrubbed = $12, approval_role = $13
			where id = $1
		`, id, working.Commander, working.Callsign, working.TailNumber, working.AircraftType,
			working.MissionType, working.IsBriefed, working.IsApproved, working.ApprovalBy,
			working.RequiredApproval, utc(working.LastEdited), working.PIIScrubbed, working.ApprovalRole)
		if err != nil {
			return s.fail(err, "flight "+id)
		}
		for i, c := range working.Crew {
			if c.Name == before.Crew[i].Name && c.Position == before.Crew[i].Position {
				continue
			}
			if _, err := tx.ExecContext(ctx, `update crew_members set name = $2, position = $3 where id = $1`,
				c.ID, c.Name, c.Position); err != nil {
				return s.fail(err, "crew member "+c.ID)
			}
		}
		updated = working
		return nil
	})
	if err != nil {
		return flight.Flight{}, err
	}
	return updated, nil
}

func (s *Store) DeleteFlight(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from flight_hazards where flight_id = $1`, id); err != nil {
			return errs.Unavailable(err)
		}
		if _, err := tx.ExecContext(ctx, `delete from crew_members where flight_id = $1`, id); err != nil {
			return errs.Unavailable(err)
		}
		res, err := tx.ExecContext(ctx, `delete from flights where id = $1`, id)
		if err != nil {
			return errs.Unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errs.Unavailable(err)
		}
		if n == 0 {
			return fmt.Errorf("%w: flight %s", errs.ErrNotFound, id)
		}
		return nil
	})
}

func (s *Store) ScrubCandidates(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `select id from flights where is_pii_scrubbed = $1 and flight_date < $2 order by flight_date asc, id asc`
	args := []any{false, utc(cutoff)}
	if limit > 0 {
		query += " limit $3"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Unavailable(err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Unavailable(err)
	}
	return out, nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " and " + c
	}
	return out
}
