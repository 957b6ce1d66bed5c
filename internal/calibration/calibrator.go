package calibration

import (
	"context"
	"math"

	"mcs-iot/internal/models"

	"go.uber.org/zap"
)

// SanityCeiling 超过该浓度仅记录告警日志（数据质量信号，不视为错误）
const SanityCeiling = 50000.0

// CoefficientSource 校准系数来源；found=false 表示未命中
type CoefficientSource interface {
	GetCoefficients(ctx context.Context, sn string) (models.Coefficients, bool, error)
}

// Calculate 按线性公式计算浓度：max(0, k*v_raw + b + t_coef*(temp-25))，保留两位小数
func Calculate(c models.Coefficients, vRaw, temp float64) float64 {
	ppm := c.K*vRaw + c.B + c.TCoef*(temp-models.ReferenceTemperature)
	if ppm < 0 {
		ppm = 0
	}
	return math.Round(ppm*100) / 100
}

// Calibrator 校准引擎
type Calibrator struct {
	source CoefficientSource
	logger *zap.Logger
}

// NewCalibrator 创建校准引擎
func NewCalibrator(source CoefficientSource, logger *zap.Logger) *Calibrator {
	return &Calibrator{
		source: source,
		logger: logger,
	}
}

// Coefficients 查询设备系数，缓存未命中或出错时返回恒等系数
func (c *Calibrator) Coefficients(ctx context.Context, sn string) models.Coefficients {
	coeff, found, err := c.source.GetCoefficients(ctx, sn)
	if err != nil {
		c.logger.Error("Failed to load calibration, using defaults",
			zap.String("sn", sn),
			zap.Error(err),
		)
		return models.IdentityCoefficients()
	}
	if !found {
		return models.IdentityCoefficients()
	}
	return coeff
}

// Calibrate 计算设备浓度
func (c *Calibrator) Calibrate(ctx context.Context, sn string, vRaw, temp float64) float64 {
	ppm := Calculate(c.Coefficients(ctx, sn), vRaw, temp)
	if ppm > SanityCeiling {
		c.logger.Warn("Abnormal high concentration",
			zap.String("sn", sn),
			zap.Float64("ppm", ppm),
			zap.Float64("v_raw", vRaw),
		)
	}
	return ppm
}
