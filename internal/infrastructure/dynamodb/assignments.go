package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"guild-access/internal/domain"
)

type assignmentItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	ID         string `dynamodbav:"ID"`
	GuildID    string `dynamodbav:"GuildID"`
	UserID     string `dynamodbav:"UserID"`
	Role       string `dynamodbav:"Role"`
	AssignedAt string `dynamodbav:"AssignedAt"`
	AssignedBy string `dynamodbav:"AssignedBy,omitempty"`
	Source     string `dynamodbav:"Source"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	RevokedAt  string `dynamodbav:"RevokedAt,omitempty"`
}

func activeItem(a domain.GuildRoleAssignment) assignmentItem {
	return assignmentItem{
		PK:         guildPK(a.GuildID),
		SK:         memberSK(a.UserID),
		EntityType: "GUILD_ROLE",
		ID:         a.ID,
		GuildID:    a.GuildID,
		UserID:     a.UserID,
		Role:       a.Role.String(),
		AssignedAt: formatTime(a.AssignedAt),
		AssignedBy: a.AssignedByUserID,
		Source:     string(a.Source),
		CreatedAt:  formatTime(a.CreatedAt),
	}
}

// userItem mirrors the active item under the user's partition so per-user
// reads can be strongly consistent.
func userItem(a domain.GuildRoleAssignment) assignmentItem {
	it := activeItem(a)
	it.PK, it.SK = userPK(a.UserID), guildPK(a.GuildID)
	it.EntityType = "USER_GUILD_ROLE"
	return it
}

func (it assignmentItem) toDomain() (domain.GuildRoleAssignment, error) {
	role, err := domain.ParseGuildRole(it.Role)
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	a := domain.GuildRoleAssignment{
		ID:               it.ID,
		GuildID:          it.GuildID,
		UserID:           it.UserID,
		Role:             role,
		AssignedAt:       parseTime(it.AssignedAt),
		AssignedByUserID: it.AssignedBy,
		Source:           domain.AssignmentSource(it.Source),
		CreatedAt:        parseTime(it.CreatedAt),
	}
	if it.RevokedAt != "" {
		t := parseTime(it.RevokedAt)
		a.RevokedAt = &t
	}
	return a, nil
}

// GuildRoleRepository keeps exactly one MEMBER item per (guild, user); the
// item key itself enforces the single active assignment. Every write to a
// MEMBER item updates its user mirror in the same transaction.
type GuildRoleRepository struct{ client *Client }

func NewGuildRoleRepository(client *Client) *GuildRoleRepository {
	return &GuildRoleRepository{client: client}
}

func (r *GuildRoleRepository) GetActive(ctx context.Context, guildID, userID string) (domain.GuildRoleAssignment, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetGuildRole", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      r.client.table(),
			Key:            keyOf(guildPK(guildID), memberSK(userID)),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	if out.Item == nil {
		return domain.GuildRoleAssignment{}, domain.ErrNotFound
	}
	var item assignmentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.GuildRoleAssignment{}, err
	}
	return item.toDomain()
}

func (r *GuildRoleRepository) ListActiveByGuild(ctx context.Context, guildID string) ([]domain.GuildRoleAssignment, error) {
	return r.query(ctx, "DynamoDB.QueryGuildRoles", &awsv2dynamodb.QueryInput{
		TableName:              r.client.table(),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": stringValue(guildPK(guildID)),
			":sk": stringValue("MEMBER#"),
		},
		ConsistentRead: aws.Bool(true),
	})
}

// ListActiveByUser reads the user mirror items, so a role sync right after a
// write sees that write.
func (r *GuildRoleRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.GuildRoleAssignment, error) {
	return r.query(ctx, "DynamoDB.QueryUserGuildRoles", &awsv2dynamodb.QueryInput{
		TableName:              r.client.table(),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": stringValue(userPK(userID)),
			":sk": stringValue("GUILD#"),
		},
		ConsistentRead: aws.Bool(true),
	})
}

func (r *GuildRoleRepository) query(ctx context.Context, segment string, in *awsv2dynamodb.QueryInput) ([]domain.GuildRoleAssignment, error) {
	out := make([]domain.GuildRoleAssignment, 0)
	err := xray.Capture(ctx, segment, func(ctx context.Context) error {
		p := awsv2dynamodb.NewQueryPaginator(r.client.db, in)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, raw := range page.Items {
				var item assignmentItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return err
				}
				a, err := item.toDomain()
				if err != nil {
					return err
				}
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *GuildRoleRepository) Insert(ctx context.Context, a domain.GuildRoleAssignment) error {
	member, err := attributevalue.MarshalMap(activeItem(a))
	if err != nil {
		return err
	}
	mirror, err := attributevalue.MarshalMap(userItem(a))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutGuildRole", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: []awsv2types.TransactWriteItem{
				{Put: &awsv2types.Put{
					TableName:           r.client.table(),
					Item:                member,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				}},
				{Put: &awsv2types.Put{
					TableName: r.client.table(),
					Item:      mirror,
				}},
			},
		})
		if isTransactionConditionFailure(err) {
			return domain.ErrConflict
		}
		return err
	})
}

func (r *GuildRoleRepository) UpdateRole(ctx context.Context, a domain.GuildRoleAssignment, keepAdmin bool) error {
	set := "SET #r = :r, AssignedAt = :at, #s = :s"
	values := map[string]awsv2types.AttributeValue{
		":r":  stringValue(a.Role.String()),
		":at": stringValue(formatTime(a.AssignedAt)),
		":s":  stringValue(string(a.Source)),
		":id": stringValue(a.ID),
	}
	update := set + " REMOVE AssignedBy"
	if a.AssignedByUserID != "" {
		update = set + ", AssignedBy = :by"
		values[":by"] = stringValue(a.AssignedByUserID)
	}
	mirror, err := attributevalue.MarshalMap(userItem(a))
	if err != nil {
		return err
	}
	guard, err := r.adminGuard(ctx, a, keepAdmin)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.UpdateGuildRole", func(ctx context.Context) error {
		items := []awsv2types.TransactWriteItem{
			{Update: &awsv2types.Update{
				TableName:        r.client.table(),
				Key:              keyOf(guildPK(a.GuildID), memberSK(a.UserID)),
				UpdateExpression: aws.String(update),
				ExpressionAttributeNames: map[string]string{
					"#r": "Role",
					"#s": "Source",
				},
				ExpressionAttributeValues: values,
				ConditionExpression:       aws.String("ID = :id"),
			}},
			{Put: &awsv2types.Put{
				TableName: r.client.table(),
				Item:      mirror,
			}},
		}
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: append(items, guard...),
		})
		return guardedWriteError(err, len(items))
	})
}

// Revoke moves the MEMBER item to a REVOKED history item and drops the user
// mirror in one transaction.
func (r *GuildRoleRepository) Revoke(ctx context.Context, a domain.GuildRoleAssignment, at time.Time, keepAdmin bool) error {
	history := activeItem(a)
	history.SK = revokedSK(a.UserID, at, a.ID)
	history.RevokedAt = formatTime(at)
	av, err := attributevalue.MarshalMap(history)
	if err != nil {
		return err
	}
	guard, err := r.adminGuard(ctx, a, keepAdmin)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.RevokeGuildRole", func(ctx context.Context) error {
		items := []awsv2types.TransactWriteItem{
			{Delete: &awsv2types.Delete{
				TableName:           r.client.table(),
				Key:                 keyOf(guildPK(a.GuildID), memberSK(a.UserID)),
				ConditionExpression: aws.String("ID = :id"),
				ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
					":id": stringValue(a.ID),
				},
			}},
			{Put: &awsv2types.Put{
				TableName: r.client.table(),
				Item:      av,
			}},
			{Delete: &awsv2types.Delete{
				TableName: r.client.table(),
				Key:       keyOf(userPK(a.UserID), guildPK(a.GuildID)),
			}},
		}
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: append(items, guard...),
		})
		return guardedWriteError(err, len(items))
	})
}

// adminGuard returns a condition check that another guild admin's MEMBER item
// still holds guild_admin when the write commits. Two admins demoting each
// other concurrently each check the other's item, so at most one commits.
func (r *GuildRoleRepository) adminGuard(ctx context.Context, a domain.GuildRoleAssignment, keepAdmin bool) ([]awsv2types.TransactWriteItem, error) {
	if !keepAdmin {
		return nil, nil
	}
	other, found, err := r.otherAdmin(ctx, a.GuildID, a.UserID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrLastGuildAdmin
	}
	return []awsv2types.TransactWriteItem{
		{ConditionCheck: &awsv2types.ConditionCheck{
			TableName:                r.client.table(),
			Key:                      keyOf(guildPK(a.GuildID), memberSK(other)),
			ConditionExpression:      aws.String("#r = :admin"),
			ExpressionAttributeNames: map[string]string{"#r": "Role"},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":admin": stringValue(domain.RoleGuildAdmin.String()),
			},
		}},
	}, nil
}

// otherAdmin finds one active guild admin other than userID.
func (r *GuildRoleRepository) otherAdmin(ctx context.Context, guildID, userID string) (string, bool, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              r.client.table(),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		FilterExpression:       aws.String("#r = :r AND UserID <> :u"),
		ProjectionExpression:   aws.String("UserID"),
		ExpressionAttributeNames: map[string]string{
			"#r": "Role",
		},
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": stringValue(guildPK(guildID)),
			":sk": stringValue("MEMBER#"),
			":r":  stringValue(domain.RoleGuildAdmin.String()),
			":u":  stringValue(userID),
		},
		ConsistentRead: aws.Bool(true),
	}
	var other string
	err := xray.Capture(ctx, "DynamoDB.FindGuildAdmin", func(ctx context.Context) error {
		p := awsv2dynamodb.NewQueryPaginator(r.client.db, in)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, raw := range page.Items {
				var item struct {
					UserID string `dynamodbav:"UserID"`
				}
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return err
				}
				other = item.UserID
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return other, other != "", nil
}

// guardedWriteError maps a cancelled transaction whose first n items are the
// write itself and the rest are admin guards.
func guardedWriteError(err error, n int) error {
	var txErr *awsv2types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return err
	}
	for i, reason := range txErr.CancellationReasons {
		switch aws.ToString(reason.Code) {
		case "ConditionalCheckFailed":
			if i >= n {
				return domain.ErrLastGuildAdmin
			}
			return domain.ErrNotFound
		case "TransactionConflict":
			return domain.ErrConflict
		}
	}
	return err
}
