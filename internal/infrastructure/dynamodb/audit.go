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

type auditItem struct {
	PK           string         `dynamodbav:"PK"`
	SK           string         `dynamodbav:"SK"`
	GSI2PK       string         `dynamodbav:"GSI2PK"`
	GSI2SK       string         `dynamodbav:"GSI2SK"`
	EntityType   string         `dynamodbav:"EntityType"`
	ID           string         `dynamodbav:"ID"`
	Action       string         `dynamodbav:"Action"`
	GuildID      string         `dynamodbav:"GuildID,omitempty"`
	ActorUserID  string         `dynamodbav:"ActorUserID,omitempty"`
	TargetUserID string         `dynamodbav:"TargetUserID,omitempty"`
	Metadata     map[string]any `dynamodbav:"Metadata,omitempty"`
	CreatedAt    string         `dynamodbav:"CreatedAt"`
}

type AuditRepository struct{ client *Client }

func NewAuditRepository(client *Client) *AuditRepository {
	return &AuditRepository{client: client}
}

func (r *AuditRepository) Record(ctx context.Context, e domain.AuditEntry) error {
	sk := auditSK(e.CreatedAt, e.ID)
	av, err := attributevalue.MarshalMap(auditItem{
		PK:           auditPK(e.GuildID),
		SK:           sk,
		GSI2PK:       "AUDIT",
		GSI2SK:       sk,
		EntityType:   "AUDIT",
		ID:           e.ID,
		Action:       string(e.Action),
		GuildID:      e.GuildID,
		ActorUserID:  e.ActorUserID,
		TargetUserID: e.TargetUserID,
		Metadata:     e.Metadata,
		CreatedAt:    formatTime(e.CreatedAt),
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutAudit", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: r.client.table(),
			Item:      av,
		})
		return err
	})
}

func (r *AuditRepository) ListByGuild(ctx context.Context, guildID string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return r.list(ctx, "PK", "SK", "", auditPK(guildID), filter)
}

func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return r.list(ctx, "GSI2PK", "GSI2SK", auditAllIndex, "AUDIT", filter)
}

// list pages newest first until filter.Limit matching entries are collected.
// Limit on the request applies before the action filter, hence the loop.
func (r *AuditRepository) list(ctx context.Context, pkName, skName, index, pk string, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	filter = filter.Normalize()
	keyCond := pkName + " = :pk"
	values := map[string]awsv2types.AttributeValue{":pk": stringValue(pk)}
	if !filter.Before.IsZero() {
		keyCond += " AND " + skName + " < :before"
		values[":before"] = stringValue(formatTime(filter.Before))
	}
	in := &awsv2dynamodb.QueryInput{
		TableName:                 r.client.table(),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(filter.Limit)), //nolint:gosec // clamped by Normalize
	}
	if index != "" {
		in.IndexName = aws.String(index)
	}
	if len(filter.Actions) > 0 {
		names := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			key := fmt.Sprintf(":a%d", i)
			names[i] = key
			values[key] = stringValue(string(a))
		}
		in.FilterExpression = aws.String("#act IN (" + strings.Join(names, ", ") + ")")
		in.ExpressionAttributeNames = map[string]string{"#act": "Action"}
	}

	out := make([]domain.AuditEntry, 0, filter.Limit)
	err := xray.Capture(ctx, "DynamoDB.QueryAudit", func(ctx context.Context) error {
		p := awsv2dynamodb.NewQueryPaginator(r.client.db, in)
		for p.HasMorePages() && len(out) < filter.Limit {
			page, err := p.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, raw := range page.Items {
				var item auditItem
				if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
					return err
				}
				out = append(out, domain.AuditEntry{
					ID:           item.ID,
					Action:       domain.AuditAction(item.Action),
					GuildID:      item.GuildID,
					ActorUserID:  item.ActorUserID,
					TargetUserID: item.TargetUserID,
					Metadata:     item.Metadata,
					CreatedAt:    parseTime(item.CreatedAt),
				})
				if len(out) == filter.Limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
