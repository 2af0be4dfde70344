// Package dynamodb stores profiles, guild role assignments and audit entries
// in a single DynamoDB table.
//
// Key layout:
//
//	profile            PK=USER#<user>    SK=PROFILE
//	active assignment  PK=GUILD#<guild>  SK=MEMBER#<user>
//	user mirror        PK=USER#<user>    SK=GUILD#<guild>
//	revoked assignment PK=GUILD#<guild>  SK=REVOKED#<user>#<revoked_at>#<id>
//	audit entry        PK=AUDIT#<guild>  SK=<created_at>#<id> GSI2PK=AUDIT      GSI2SK=<created_at>#<id>
package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
)

const (
	emailIndex    = "EmailIndex"
	auditAllIndex = "AuditAllIndex"

	// fixed width so sort keys order lexically by time
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// API is the subset of the DynamoDB client the repositories use.
type API interface {
	GetItem(ctx context.Context, in *awsv2dynamodb.GetItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *awsv2dynamodb.PutItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *awsv2dynamodb.QueryInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *awsv2dynamodb.TransactWriteItemsInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error)
}

type Client struct {
	db        API
	tableName string
}

// NewClient loads the default AWS config for region and instruments the
// client with X-Ray.
func NewClient(ctx context.Context, region, tableName string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	return NewClientWithAPI(awsv2dynamodb.NewFromConfig(cfg), tableName), nil
}

func NewClientWithAPI(api API, tableName string) *Client {
	return &Client{db: api, tableName: tableName}
}

func (c *Client) table() *string { return aws.String(c.tableName) }

func userPK(userID string) string   { return "USER#" + userID }
func profileSK() string             { return "PROFILE" }
func guildPK(guildID string) string { return "GUILD#" + guildID }
func memberSK(userID string) string { return "MEMBER#" + userID }

func revokedSK(userID string, at time.Time, id string) string {
	return "REVOKED#" + userID + "#" + formatTime(at) + "#" + id
}

func auditPK(guildID string) string {
	if guildID == "" {
		return "AUDIT#GLOBAL"
	}
	return "AUDIT#" + guildID
}

func auditSK(at time.Time, id string) string { return formatTime(at) + "#" + id }

func formatTime(t time.Time) string { return t.UTC().Format(sortableTime) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(sortableTime, s)
	return t
}

func keyOf(pk, sk string) map[string]awsv2types.AttributeValue {
	return map[string]awsv2types.AttributeValue{
		"PK": &awsv2types.AttributeValueMemberS{Value: pk},
		"SK": &awsv2types.AttributeValueMemberS{Value: sk},
	}
}

func stringValue(s string) awsv2types.AttributeValue {
	return &awsv2types.AttributeValueMemberS{Value: s}
}

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// isTransactionConditionFailure reports whether a transaction was cancelled
// by a failed condition on any of its items.
func isTransactionConditionFailure(err error) bool {
	var txErr *awsv2types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return false
	}
	for _, reason := range txErr.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
