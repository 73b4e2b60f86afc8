package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/models"

	"github.com/gofrs/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"
	tasksCollection = "tasks"

	assigneeCreatedIndex = "assigned_to_1_created_at_-1"
)

// ErrAssigneeIndex reports that the compound assignee index could not be
// built. The store still works; assignee queries are sorted in memory.
var ErrAssigneeIndex = errors.New("assignee index unavailable")

type userDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type taskDoc struct {
	ID             string     `bson:"_id"`
	Title          string     `bson:"title"`
	Description    string     `bson:"description"`
	AssignedTo     string     `bson:"assigned_to"`
	AssignedBy     string     `bson:"assigned_by"`
	AssignedByName string     `bson:"assigned_by_name"`
	Status         string     `bson:"status"`
	Priority       string     `bson:"priority"`
	Deadline       *time.Time `bson:"deadline,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

// MongoStore keeps the directory in two MongoDB collections. The sorted
// assignee query is only offered once the compound index exists.
type MongoStore struct {
	client      *mongo.Client
	users       *mongo.Collection
	tasks       *mongo.Collection
	sortedIndex atomic.Bool
}

// ConnectMongo dials uri and pings the primary before returning.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	db := client.Database(database)
	return &MongoStore{
		client: client,
		users:  db.Collection(usersCollection),
		tasks:  db.Collection(tasksCollection),
	}
}

// EnsureIndexes creates the user indexes and the compound assignee index.
// A failure on the compound index is returned wrapped in ErrAssigneeIndex and
// leaves the sorted assignee query switched off.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "role", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	_, err = s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "assigned_to", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName(assigneeCreatedIndex),
	})
	if err != nil {
		s.sortedIndex.Store(false)
		return fmt.Errorf("%w: %v", ErrAssigneeIndex, err)
	}
	s.sortedIndex.Store(true)
	return nil
}

func (s *MongoStore) SupportsSortedAssigneeQuery() bool {
	return s.sortedIndex.Load()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperrors.Store("save user", err)
		}
		user.ID = id
	}
	user.Email = normalizeEmail(user.Email)
	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return emailInUse()
		}
		return apperrors.Store("save user", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id.String()})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": normalizeEmail(email)})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Store("load user", err)
	}
	user, err := doc.toModel()
	if err != nil {
		return nil, apperrors.Store("load user", err)
	}
	return user, nil
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{})
}

func (s *MongoStore) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return s.findUsers(ctx, bson.M{"role": string(role)})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Store("load users", err)
	}
	defer cursor.Close(ctx)
	return decodeUsers(ctx, cursor)
}

// decodeUsers drains cursor. An empty result is an empty slice, not nil.
func decodeUsers(ctx context.Context, cursor *mongo.Cursor) ([]models.User, error) {
	users := []models.User{}
	for cursor.Next(ctx) {
		var doc userDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperrors.Store("load users", err)
		}
		user, err := doc.toModel()
		if err != nil {
			return nil, apperrors.Store("load users", err)
		}
		users = append(users, *user)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.Store("load users", err)
	}
	return users, nil
}

func (s *MongoStore) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, apperrors.Store("load users", err)
	}
	return n, nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, id uuid.UUID, patch models.UserPatch, now time.Time) (*models.User, error) {
	set := bson.M{"updated_at": now}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Email != nil {
		set["email"] = normalizeEmail(*patch.Email)
	}
	if patch.Role != nil {
		set["role"] = string(*patch.Role)
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, emailInUse()
		}
		return nil, apperrors.Store("save user", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *MongoStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return apperrors.Store("delete user", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *MongoStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return apperrors.Store("save task", err)
		}
		task.ID = id
	}
	if _, err := s.tasks.InsertOne(ctx, toTaskDoc(task)); err != nil {
		return apperrors.Store("save task", err)
	}
	return nil
}

func (s *MongoStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var doc taskDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Store("load task", err)
	}
	task, err := doc.toModel()
	if err != nil {
		return nil, apperrors.Store("load task", err)
	}
	return task, nil
}

func (s *MongoStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	return s.findTasks(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *MongoStore) ListTasksByAssignee(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	return s.findTasks(ctx, bson.M{"assigned_to": userID.String()}, options.Find())
}

func (s *MongoStore) ListTasksByAssigneeSorted(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetHint(assigneeCreatedIndex)
	return s.findTasks(ctx, bson.M{"assigned_to": userID.String()}, opts)
}

func (s *MongoStore) findTasks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Task, error) {
	cursor, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.Store("load tasks", err)
	}
	defer cursor.Close(ctx)
	return decodeTasks(ctx, cursor)
}

func decodeTasks(ctx context.Context, cursor *mongo.Cursor) ([]models.Task, error) {
	tasks := []models.Task{}
	for cursor.Next(ctx) {
		var doc taskDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperrors.Store("load tasks", err)
		}
		task, err := doc.toModel()
		if err != nil {
			return nil, apperrors.Store("load tasks", err)
		}
		tasks = append(tasks, *task)
	}
	if err := cursor.Err(); err != nil {
		return nil, apperrors.Store("load tasks", err)
	}
	return tasks, nil
}

func (s *MongoStore) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, now time.Time) (*models.Task, error) {
	return s.updateTask(ctx, id, bson.M{"$set": bson.M{"status": string(status), "updated_at": now}})
}

func (s *MongoStore) UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch, now time.Time) (*models.Task, error) {
	return s.updateTask(ctx, id, taskUpdateDoc(patch, now))
}

func (s *MongoStore) updateTask(ctx context.Context, id uuid.UUID, update bson.M) (*models.Task, error) {
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return nil, apperrors.Store("save task", err)
	}
	if res.MatchedCount == 0 {
		return nil, apperrors.ErrNotFound
	}
	return s.GetTask(ctx, id)
}

func (s *MongoStore) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return apperrors.Store("delete task", err)
	}
	if res.DeletedCount == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func taskUpdateDoc(patch models.TaskPatch, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.AssignedTo != nil {
		set["assigned_to"] = patch.AssignedTo.String()
	}
	if patch.Priority != nil {
		set["priority"] = string(*patch.Priority)
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}

	update := bson.M{}
	if patch.ClearDeadline {
		update["$unset"] = bson.M{"deadline": ""}
	} else if patch.Deadline != nil {
		set["deadline"] = *patch.Deadline
	}
	update["$set"] = set
	return update
}

func toUserDoc(u *models.User) userDoc {
	return userDoc{
		ID:        u.ID.String(),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (d userDoc) toModel() (*models.User, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", d.ID, err)
	}
	return &models.User{
		ID:        id,
		Name:      d.Name,
		Email:     d.Email,
		Role:      models.Role(d.Role),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func toTaskDoc(t *models.Task) taskDoc {
	return taskDoc{
		ID:             t.ID.String(),
		Title:          t.Title,
		Description:    t.Description,
		AssignedTo:     t.AssignedTo.String(),
		AssignedBy:     t.AssignedBy.String(),
		AssignedByName: t.AssignedByName,
		Status:         string(t.Status),
		Priority:       string(t.Priority),
		Deadline:       t.Deadline,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (d taskDoc) toModel() (*models.Task, error) {
	id, err := uuid.FromString(d.ID)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", d.ID, err)
	}
	assignedTo, err := uuid.FromString(d.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("task %q assignee: %w", d.ID, err)
	}
	assignedBy, err := uuid.FromString(d.AssignedBy)
	if err != nil {
		return nil, fmt.Errorf("task %q assigner: %w", d.ID, err)
	}
	return &models.Task{
		ID:             id,
		Title:          d.Title,
		Description:    d.Description,
		AssignedTo:     assignedTo,
		AssignedBy:     assignedBy,
		AssignedByName: d.AssignedByName,
		Status:         models.TaskStatus(d.Status),
		Priority:       models.Priority(d.Priority),
		Deadline:       d.Deadline,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}
