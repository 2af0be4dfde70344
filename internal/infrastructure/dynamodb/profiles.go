package dynamodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"guild-access/internal/domain"
)

type profileItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	EntityType  string `dynamodbav:"EntityType"`
	ID          string `dynamodbav:"ID"`
	Email       string `dynamodbav:"Email"`
	DisplayName string `dynamodbav:"DisplayName,omitempty"`
	AppRole     string `dynamodbav:"AppRole,omitempty"`
}

type ProfileRepository struct{ client *Client }

func NewProfileRepository(client *Client) *ProfileRepository {
	return &ProfileRepository{client: client}
}

func (r *ProfileRepository) GetAppRole(ctx context.Context, userID string) (domain.Role, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetProfile", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      r.client.table(),
			Key:            keyOf(userPK(userID), profileSK()),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return domain.RoleNone, err
	}
	if out.Item == nil {
		return domain.RoleNone, domain.ErrNotFound
	}
	var item profileItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.RoleNone, err
	}
	if item.AppRole == "" {
		return domain.RoleNone, nil
	}
	if item.AppRole != domain.RoleSuperAdmin.String() {
		return domain.RoleNone, fmt.Errorf("profile %s: unexpected app role %q", userID, item.AppRole)
	}
	return domain.RoleSuperAdmin, nil
}

func (r *ProfileRepository) FindIDByEmail(ctx context.Context, email string) (string, error) {
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryProfileByEmail", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, &awsv2dynamodb.QueryInput{
			TableName:              r.client.table(),
			IndexName:              aws.String(emailIndex),
			KeyConditionExpression: aws.String("Email = :e"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":e": stringValue(strings.ToLower(email)),
			},
			Limit: aws.Int32(1),
		})
		return e
	})
	if err != nil {
		return "", err
	}
	if len(out.Items) == 0 {
		return "", domain.ErrNotFound
	}
	var item profileItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// Upsert writes the whole profile item; used for seeding.
func (r *ProfileRepository) Upsert(ctx context.Context, p domain.UserProfile) error {
	item := profileItem{
		PK:          userPK(p.ID),
		SK:          profileSK(),
		EntityType:  "PROFILE",
		ID:          p.ID,
		Email:       strings.ToLower(p.Email),
		DisplayName: p.DisplayName,
	}
	if p.AppRole == domain.RoleSuperAdmin {
		item.AppRole = p.AppRole.String()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutProfile", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: r.client.table(),
			Item:      av,
		})
		return err
	})
}
