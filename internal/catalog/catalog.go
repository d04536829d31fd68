package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("catalog entry not found")
	ErrInvalid  = errors.New("invalid catalog entry")
)

// Vector3 is an (x, y, z) triple used for scale and rotation.
type Vector3 [3]float64

// Technical holds the mesh statistics shown next to an asset.
type Technical struct {
	Objects   int64 `json:"objects"`
	Vertices  int64 `json:"vertices"`
	Edges     int64 `json:"edges"`
	Faces     int64 `json:"faces"`
	Triangles int64 `json:"triangles"`
}

// Asset is the metadata record describing one 3D asset.
type Asset struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	ExtendedDescription string     `json:"extendedDescription"`
	Poly                string     `json:"poly"`
	Price               string     `json:"price"`
	ModelURL            string     `json:"modelUrl"`
	WalkModelURL        string     `json:"walkModelUrl"`
	Software            string     `json:"software"`
	SoftwareLogo        string     `json:"softwareLogo"`
	Scale               Vector3    `json:"scale"`
	Rotation            Vector3    `json:"rotation"`
	Technical           *Technical `json:"technical"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Input carries the writable fields of an asset. Scale and rotation fall
// back to their defaults when omitted.
type Input struct {
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	ExtendedDescription string     `json:"extendedDescription"`
	Poly                string     `json:"poly"`
	Price               string     `json:"price"`
	ModelURL            string     `json:"modelUrl"`
	WalkModelURL        string     `json:"walkModelUrl"`
	Software            string     `json:"software"`
	SoftwareLogo        string     `json:"softwareLogo"`
	Scale               *Vector3   `json:"scale"`
	Rotation            *Vector3   `json:"rotation"`
	Technical           *Technical `json:"technical"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" || in.Technical == nil {
		return fmt.Errorf("%w: title, description, and technical details are required", ErrInvalid)
	}
	return nil
}

// row mirrors the assets table.
type row struct {
	ID                  string    `db:"id"`
	Title               string    `db:"title"`
	Description         string    `db:"description"`
	ExtendedDescription string    `db:"extended_description"`
	Poly                string    `db:"poly"`
	Price               string    `db:"price"`
	ModelURL            string    `db:"model_url"`
	WalkModelURL        string    `db:"walk_model_url"`
	Software            string    `db:"software"`
	SoftwareLogo        string    `db:"software_logo"`
	Scale               string    `db:"scale"`
	Rotation            string    `db:"rotation"`
	TechObjects         int64     `db:"tech_objects"`
	TechVertices        int64     `db:"tech_vertices"`
	TechEdges           int64     `db:"tech_edges"`
	TechFaces           int64     `db:"tech_faces"`
	TechTriangles       int64     `db:"tech_triangles"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

const assetColumns = `id, title, description, extended_description, poly, price, model_url,
	walk_model_url, software, software_logo, scale, rotation, tech_objects, tech_vertices,
	tech_edges, tech_faces, tech_triangles, created_at, updated_at`

func (r row) asset() (Asset, error) {
	a := Asset{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		ExtendedDescription: r.ExtendedDescription,
		Poly:                r.Poly,
		Price:               r.Price,
		ModelURL:            r.ModelURL,
		WalkModelURL:        r.WalkModelURL,
		Software:            r.Software,
		SoftwareLogo:        r.SoftwareLogo,
		Technical: &Technical{
			Objects:   r.TechObjects,
			Vertices:  r.TechVertices,
			Edges:     r.TechEdges,
			Faces:     r.TechFaces,
			Triangles: r.TechTriangles,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if err := json.Unmarshal([]byte(r.Scale), &a.Scale); err != nil {
		return Asset{}, fmt.Errorf("decode scale of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Rotation), &a.Rotation); err != nil {
		return Asset{}, fmt.Errorf("decode rotation of %s: %w", r.ID, err)
	}
	return a, nil
}

func newRow(id string, in Input, createdAt time.Time, updatedAt time.Time) (row, error) {
	scale := Vector3{1, 1, 1}
	if in.Scale != nil {
		scale = *in.Scale
	}
	rotation := Vector3{}
	if in.Rotation != nil {
		rotation = *in.Rotation
	}

	scaleJSON, err := json.Marshal(scale)
	if err != nil {
		return row{}, err
	}
	rotationJSON, err := json.Marshal(rotation)
	if err != nil {
		return row{}, err
	}

	return row{
		ID:                  id,
		Title:               strings.TrimSpace(in.Title),
		Description:         strings.TrimSpace(in.Description),
		ExtendedDescription: strings.TrimSpace(in.ExtendedDescription),
		Poly:                strings.TrimSpace(in.Poly),
		Price:               strings.TrimSpace(in.Price),
		ModelURL:            strings.TrimSpace(in.ModelURL),
		WalkModelURL:        strings.TrimSpace(in.WalkModelURL),
		Software:            strings.TrimSpace(in.Software),
		SoftwareLogo:        strings.TrimSpace(in.SoftwareLogo),
		Scale:               string(scaleJSON),
		Rotation:            string(rotationJSON),
		TechObjects:         in.Technical.Objects,
		TechVertices:        in.Technical.Vertices,
		TechEdges:           in.Technical.Edges,
		TechFaces:           in.Technical.Faces,
		TechTriangles:       in.Technical.Triangles,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

// Store persists catalog entries in a SQL database.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, in Input) (Asset, error) {
	if err := in.validate(); err != nil {
		return Asset{}, err
	}

	now := time.Now().UTC()
	r, err := newRow(uuid.NewString(), in, now, now)
	if err != nil {
		return Asset{}, err
	}

	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO assets(`+assetColumns+`) VALUES(:id, :title, :description, :extended_description,
		 :poly, :price, :model_url, :walk_model_url, :software, :software_logo, :scale, :rotation,
		 :tech_objects, :tech_vertices, :tech_edges, :tech_faces, :tech_triangles, :created_at, :updated_at)`,
		r,
	)
	if err != nil {
		return Asset{}, fmt.Errorf("insert asset: %w", err)
	}

	return r.asset()
}

func (s *Store) Get(ctx context.Context, id string) (Asset, error) {
	var r row
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+assetColumns+` FROM assets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("select asset: %w", err)
	}
	return r.asset()
}

// GetMany loads the assets with the given ids, keyed by id. Unknown ids are
// left out of the result.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]Asset, error) {
	assets := make(map[string]Asset, len(ids))
	if len(ids) == 0 {
		return assets, nil
	}

	query, args, err := sqlx.In(`SELECT `+assetColumns+` FROM assets WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select assets: %w", err)
	}

	for _, r := range rows {
		a, err := r.asset()
		if err != nil {
			return nil, err
		}
		assets[a.ID] = a
	}
	return assets, nil
}

func (s *Store) List(ctx context.Context) ([]Asset, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+assetColumns+` FROM assets ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("select assets: %w", err)
	}

	assets := make([]Asset, 0, len(rows))
	for _, r := range rows {
		a, err := r.asset()
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// Update replaces every writable field of the asset.
func (s *Store) Update(ctx context.Context, id string, in Input) (Asset, error) {
	if err := in.validate(); err != nil {
		return Asset{}, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Asset{}, err
	}

	r, err := newRow(id, in, current.CreatedAt, time.Now().UTC())
	if err != nil {
		return Asset{}, err
	}

	res, err := s.db.NamedExecContext(ctx,
		`UPDATE assets SET title = :title, description = :description,
		 extended_description = :extended_description, poly = :poly, price = :price,
		 model_url = :model_url, walk_model_url = :walk_model_url, software = :software,
		 software_logo = :software_logo, scale = :scale, rotation = :rotation,
		 tech_objects = :tech_objects, tech_vertices = :tech_vertices, tech_edges = :tech_edges,
		 tech_faces = :tech_faces, tech_triangles = :tech_triangles, updated_at = :updated_at
		 WHERE id = :id`,
		r,
	)
	if err != nil {
		return Asset{}, fmt.Errorf("update asset: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return r.asset()
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM assets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Exists reports whether an asset with the given id exists.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT 1 FROM assets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
