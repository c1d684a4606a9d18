package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/findx/internal/geo"
	"github.com/example/findx/internal/marketplace/domain"
)

const uniqueViolation = "23505"

// Schema creates the marketplace tables. Bookings keep their offer reference
// without a foreign key so hard-deleting an offer never touches bookings.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL,
	name TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('provider','consumer')),
	password_hash BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_email ON identities (lower(email));

CREATE TABLE IF NOT EXISTS offers (
	id UUID PRIMARY KEY,
	provider_id UUID NOT NULL REFERENCES identities(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
	unit TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	radius_km DOUBLE PRECISION NOT NULL DEFAULT 30,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offers_provider ON offers (provider_id);
CREATE INDEX IF NOT EXISTS idx_offers_lat_lon ON offers (latitude, longitude);

CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	offer_id UUID NOT NULL,
	consumer_id UUID NOT NULL REFERENCES identities(id),
	status TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ,
	note TEXT,
	address TEXT,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_bookings_offer ON bookings (offer_id);
CREATE INDEX IF NOT EXISTS idx_bookings_consumer ON bookings (consumer_id);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	booking_id UUID NOT NULL REFERENCES bookings(id),
	sender_id UUID NOT NULL REFERENCES identities(id),
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_booking ON messages (booking_id);

CREATE TABLE IF NOT EXISTS outbox (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	published BOOLEAN NOT NULL DEFAULT FALSE,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (id) WHERE published = false;
`

// PostgresRepository implements domain.Repository on database/sql with the pgx driver.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies Schema.
func (p *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// CreateIdentity inserts an identity.
func (p *PostgresRepository) CreateIdentity(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, name, role, password_hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID, identity.Email, identity.Name, string(identity.Role), identity.PasswordHash, identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Identity{}, fmt.Errorf("%w: email already registered", domain.ErrConflict)
		}
		return domain.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	return identity, nil
}

const identityColumns = `id, email, name, role, password_hash, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (domain.Identity, error) {
	var (
		identity domain.Identity
		role     string
	)
	if err := row.Scan(&identity.ID, &identity.Email, &identity.Name, &role, &identity.PasswordHash, &identity.CreatedAt); err != nil {
		return domain.Identity{}, err
	}
	identity.Role = domain.Role(role)
	identity.CreatedAt = identity.CreatedAt.UTC()
	return identity, nil
}

// GetIdentityByEmail looks an identity up by email, case-insensitively.
func (p *PostgresRepository) GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	identity, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, notFound(err, "identity")
	}
	return identity, nil
}

// GetIdentityByID retrieves an identity.
func (p *PostgresRepository) GetIdentityByID(ctx context.Context, id uuid.UUID) (domain.Identity, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	identity, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, notFound(err, "identity")
	}
	return identity, nil
}

const offerColumns = `id, provider_id, title, description, category, price_cents, unit, latitude, longitude, radius_km, is_active, created_at`

func scanOffer(row interface{ Scan(...any) error }) (domain.Offer, error) {
	var o domain.Offer
	if err := row.Scan(&o.ID, &o.ProviderID, &o.Title, &o.Description, &o.Category, &o.PriceCents, &o.Unit,
		&o.Latitude, &o.Longitude, &o.RadiusKM, &o.Active, &o.CreatedAt); err != nil {
		return domain.Offer{}, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func (p *PostgresRepository) queryOffers(ctx context.Context, query string, args ...any) ([]domain.Offer, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select offers: %w", err)
	}
	defer rows.Close()
	var offers []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return offers, nil
}

// CreateOffer inserts an offer.
func (p *PostgresRepository) CreateOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO offers (`+offerColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.ProviderID, o.Title, o.Description, o.Category, o.PriceCents, o.Unit,
		o.Latitude, o.Longitude, o.RadiusKM, o.Active, o.CreatedAt)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	return o, nil
}

// GetOfferByID retrieves an offer.
func (p *PostgresRepository) GetOfferByID(ctx context.Context, id uuid.UUID) (domain.Offer, error) {
	o, err := scanOffer(p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	if err != nil {
		return domain.Offer{}, notFound(err, "offer")
	}
	return o, nil
}

// GetOffersByIDs returns the offers that exist, in the order of ids.
func (p *PostgresRepository) GetOffersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Offer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	found, err := p.queryOffers(ctx, fmt.Sprintf(`SELECT %s FROM offers WHERE id IN (%s)`, offerColumns, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.Offer, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	res := make([]domain.Offer, 0, len(found))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			res = append(res, o)
		}
	}
	return res, nil
}

// ListOffersByProvider returns a provider's offers, newest first.
func (p *PostgresRepository) ListOffersByProvider(ctx context.Context, providerID uuid.UUID) ([]domain.Offer, error) {
	return p.queryOffers(ctx, `SELECT `+offerColumns+` FROM offers WHERE provider_id = $1 ORDER BY created_at DESC`, providerID)
}

// FindOffers runs the bounding-box prefilter in SQL. A window that wraps the
// antimeridian becomes two longitude ranges.
func (p *PostgresRepository) FindOffers(ctx context.Context, filter domain.OfferFilter) ([]domain.Offer, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if filter.Box != nil {
		where = append(where, fmt.Sprintf("latitude BETWEEN %s AND %s", arg(filter.Box.MinLat), arg(filter.Box.MaxLat)))
		if !filter.Box.FullLongitude() {
			var ranges []string
			for _, r := range filter.Box.LngRanges() {
				ranges = append(ranges, fmt.Sprintf("longitude BETWEEN %s AND %s", arg(r[0]), arg(r[1])))
			}
			where = append(where, "("+strings.Join(ranges, " OR ")+")")
		}
	}
	query := `SELECT ` + offerColumns + ` FROM offers`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	return p.queryOffers(ctx, query, args...)
}

// UpdateOffer replaces the mutable fields of an offer.
func (p *PostgresRepository) UpdateOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE offers SET title = $2, description = $3, category = $4, price_cents = $5, unit = $6,
			latitude = $7, longitude = $8, radius_km = $9, is_active = $10 WHERE id = $1`,
		o.ID, o.Title, o.Description, o.Category, o.PriceCents, o.Unit, o.Latitude, o.Longitude, o.RadiusKM, o.Active)
	if err != nil {
		return domain.Offer{}, fmt.Errorf("update offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Offer{}, fmt.Errorf("offer: %w", domain.ErrNotFound)
	}
	return p.GetOfferByID(ctx, o.ID)
}

// DeleteOffer removes an offer row.
func (p *PostgresRepository) DeleteOffer(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("offer: %w", domain.ErrNotFound)
	}
	return nil
}

const bookingColumns = `b.id, b.offer_id, b.consumer_id, b.status, b.scheduled_at, b.note, b.address, b.latitude, b.longitude, b.created_at, b.updated_at, b.version`

func scanBooking(row interface{ Scan(...any) error }, extra ...any) (domain.Booking, error) {
	var (
		b         domain.Booking
		status    string
		scheduled sql.NullTime
		note      sql.NullString
		address   sql.NullString
		lat, lng  sql.NullFloat64
	)
	dest := []any{&b.ID, &b.OfferID, &b.ConsumerID, &status, &scheduled, &note, &address, &lat, &lng, &b.CreatedAt, &b.UpdatedAt, &b.Version}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatus(status)
	if scheduled.Valid {
		t := scheduled.Time.UTC()
		b.ScheduledAt = &t
	}
	b.Note = note.String
	b.Address = address.String
	if lat.Valid && lng.Valid {
		b.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func bookingArgs(b domain.Booking) (scheduled sql.NullTime, note, address sql.NullString, lat, lng sql.NullFloat64) {
	if b.ScheduledAt != nil {
		scheduled = sql.NullTime{Time: *b.ScheduledAt, Valid: true}
	}
	note = sql.NullString{String: b.Note, Valid: b.Note != ""}
	address = sql.NullString{String: b.Address, Valid: b.Address != ""}
	if b.Location != nil {
		lat = sql.NullFloat64{Float64: b.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: b.Location.Lng, Valid: true}
	}
	return
}

// CreateBooking inserts a booking.
func (p *PostgresRepository) CreateBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.Version == 0 {
		b.Version = 1
	}
	scheduled, note, address, lat, lng := bookingArgs(b)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO bookings (id, offer_id, consumer_id, status, scheduled_at, note, address, latitude, longitude, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.OfferID, b.ConsumerID, string(b.Status), scheduled, note, address, lat, lng, b.CreatedAt, b.UpdatedAt, b.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Booking{}, fmt.Errorf("%w: booking already exists", domain.ErrConflict)
		}
		return domain.Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

// GetBookingByID retrieves a booking.
func (p *PostgresRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id))
	if err != nil {
		return domain.Booking{}, notFound(err, "booking")
	}
	return b, nil
}

func (p *PostgresRepository) queryBookingViews(ctx context.Context, where string, arg any) ([]domain.BookingView, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+bookingColumns+`, o.title, o.provider_id FROM bookings b JOIN offers o ON b.offer_id = o.id
		 WHERE `+where+` ORDER BY b.created_at DESC, b.id`, arg)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()
	var views []domain.BookingView
	for rows.Next() {
		var v domain.BookingView
		b, err := scanBooking(rows, &v.OfferTitle, &v.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		v.Booking = b
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}
	return views, nil
}

// ListBookingsByConsumer returns a consumer's bookings, newest first.
func (p *PostgresRepository) ListBookingsByConsumer(ctx context.Context, consumerID uuid.UUID) ([]domain.BookingView, error) {
	return p.queryBookingViews(ctx, "b.consumer_id = $1", consumerID)
}

// ListBookingsByProvider returns bookings made on a provider's offers, newest first.
func (p *PostgresRepository) ListBookingsByProvider(ctx context.Context, providerID uuid.UUID) ([]domain.BookingView, error) {
	return p.queryBookingViews(ctx, "o.provider_id = $1", providerID)
}

// CompareAndSwapBooking updates status-bearing fields in a single conditional
// statement keyed by id and version.
func (p *PostgresRepository) CompareAndSwapBooking(ctx context.Context, b domain.Booking, expectedVersion int64) (domain.Booking, error) {
	scheduled, note, address, lat, lng := bookingArgs(b)
	row := p.db.QueryRowContext(ctx,
		`UPDATE bookings b SET status = $3, scheduled_at = $4, note = $5, address = $6, latitude = $7, longitude = $8,
			updated_at = $9, version = b.version + 1
		 WHERE b.id = $1 AND b.version = $2
		 RETURNING `+bookingColumns,
		b.ID, expectedVersion, string(b.Status), scheduled, note, address, lat, lng, b.UpdatedAt)
	updated, err := scanBooking(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if _, getErr := p.GetBookingByID(ctx, b.ID); getErr != nil {
		return domain.Booking{}, getErr
	}
	return domain.Booking{}, domain.ErrVersionConflict
}

// CreateMessage appends a message to a booking thread.
func (p *PostgresRepository) CreateMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (id, booking_id, sender_id, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.BookingID, m.SenderID, m.Content, m.CreatedAt)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns a booking thread oldest first.
func (p *PostgresRepository) ListMessages(ctx context.Context, bookingID uuid.UUID) ([]domain.Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, booking_id, sender_id, content, created_at FROM messages WHERE booking_id = $1 ORDER BY created_at ASC, id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.BookingID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// OutboxWriter appends domain events to the outbox table for the outbox
// worker to publish. It satisfies domain.EventPublisher.
type OutboxWriter struct {
	db    *sql.DB
	topic string
}

// NewOutboxWriter constructs an OutboxWriter for topic.
func NewOutboxWriter(db *sql.DB, topic string) *OutboxWriter {
	return &OutboxWriter{db: db, topic: topic}
}

// Publish stores event as an unpublished outbox row.
func (w *OutboxWriter) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := w.db.ExecContext(ctx, `INSERT INTO outbox (topic, payload, published, created_at) VALUES ($1, $2, false, $3)`, w.topic, payload, createdAt); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
