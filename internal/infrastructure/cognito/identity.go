// Package cognito writes the cross-guild role hint to Cognito user
// attributes.
package cognito

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"github.com/aws/aws-xray-sdk-go/xray"

	"guild-access/internal/domain"
	"guild-access/internal/ports"
)

// AppRoleAttribute holds the hint; the pool must define it as a custom
// attribute writable by the service.
const AppRoleAttribute = "custom:app_role"

type API interface {
	AdminUpdateUserAttributes(ctx context.Context, in *cip.AdminUpdateUserAttributesInput, optFns ...func(*cip.Options)) (*cip.AdminUpdateUserAttributesOutput, error)
	AdminDeleteUserAttributes(ctx context.Context, in *cip.AdminDeleteUserAttributesInput, optFns ...func(*cip.Options)) (*cip.AdminDeleteUserAttributesOutput, error)
}

type IdentityProvider struct {
	api        API
	userPoolID string
}

func New(ctx context.Context, region, userPoolID string) (*IdentityProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	return NewWithAPI(cip.NewFromConfig(cfg), userPoolID), nil
}

func NewWithAPI(api API, userPoolID string) *IdentityProvider {
	return &IdentityProvider{api: api, userPoolID: userPoolID}
}

// SetAppRoleHint writes role to the user's attributes; RoleNone deletes the
// attribute. The Cognito username is the user id (sub).
func (p *IdentityProvider) SetAppRoleHint(ctx context.Context, userID string, role domain.Role) error {
	if role == domain.RoleNone {
		return xray.Capture(ctx, "Cognito.DeleteAppRole", func(ctx context.Context) error {
			_, err := p.api.AdminDeleteUserAttributes(ctx, &cip.AdminDeleteUserAttributesInput{
				UserPoolId:         aws.String(p.userPoolID),
				Username:           aws.String(userID),
				UserAttributeNames: []string{AppRoleAttribute},
			})
			if err != nil {
				return fmt.Errorf("clear app role for %s: %w", userID, err)
			}
			return nil
		})
	}
	return xray.Capture(ctx, "Cognito.UpdateAppRole", func(ctx context.Context) error {
		_, err := p.api.AdminUpdateUserAttributes(ctx, &cip.AdminUpdateUserAttributesInput{
			UserPoolId: aws.String(p.userPoolID),
			Username:   aws.String(userID),
			UserAttributes: []ciptypes.AttributeType{
				{Name: aws.String(AppRoleAttribute), Value: aws.String(role.String())},
			},
		})
		if err != nil {
			return fmt.Errorf("set app role for %s: %w", userID, err)
		}
		return nil
	})
}

// LogOnly records the hint in the log instead of an identity provider. Used
// when no user pool is configured.
type LogOnly struct {
	logger ports.Logger
}

func NewLogOnly(logger ports.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

func (p *LogOnly) SetAppRoleHint(ctx context.Context, userID string, role domain.Role) error {
	p.logger.Info(ctx, "app role hint", "user_id", userID, "role", role.String())
	return nil
}
